package domain

// Metadata is the class-specific scratchpad attached to a task. Each task
// class carries its own typed variant; workers own and mutate their variant,
// and the coordinator never interprets it beyond exposing copies to
// observers.
type Metadata interface {
	// BusinessKey returns the stable business identity the task was created
	// for (e.g. the catalog item ID for an acquisition).
	BusinessKey() string

	clone() Metadata
}

// AcquisitionStage marks where in the download pipeline an acquisition task
// currently is.
type AcquisitionStage string

// Pipeline stages, in order.
const (
	StageDownloading AcquisitionStage = "downloading"
	StageDecrypting  AcquisitionStage = "decrypting"
	StageValidating  AcquisitionStage = "validating"
	StageCopying     AcquisitionStage = "copying"
)

// AcquisitionMeta is the scratchpad for acquisition tasks: the item being
// acquired, the pipeline stage, the external transfer sub-task, and the file
// locations the pipeline produces.
type AcquisitionMeta struct {
	ItemID    string           `json:"item_id"`
	Title     string           `json:"title,omitempty"`
	Stage     AcquisitionStage `json:"stage,omitempty"`
	SubTaskID string           `json:"sub_task_id,omitempty"`
	ConvertID string           `json:"convert_id,omitempty"`

	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total"`
	Percentage float64 `json:"percentage"`

	// Key and IV are the decryption parameters from license negotiation.
	// They are scrubbed before the task is retired into history.
	Key string `json:"-"`
	IV  string `json:"-"`

	// DownloadPath is the engine's destination for the encrypted payload;
	// OutputPath is the decrypted artifact; FinalPath is the library
	// location the finished book is copied to.
	DownloadPath string `json:"download_path,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`
	FinalPath    string `json:"final_path,omitempty"`
}

// BusinessKey implements Metadata.
func (m *AcquisitionMeta) BusinessKey() string { return m.ItemID }

func (m *AcquisitionMeta) clone() Metadata {
	out := *m
	return &out
}

// Progress returns the completed fraction as a percentage, guarding against
// an unknown total (the engine may not know the size until the first
// response arrives).
func (m *AcquisitionMeta) Progress() float64 {
	if m.BytesTotal <= 0 {
		return 0
	}
	return float64(m.BytesDone) / float64(m.BytesTotal) * 100
}

// ScanMeta is the scratchpad for policy scan tasks.
type ScanMeta struct {
	// Matched is the number of catalog items the policy selected this scan.
	Matched int `json:"matched"`
}

// BusinessKey implements Metadata. Policy scans are singletons, so the key is
// fixed.
func (m *ScanMeta) BusinessKey() string { return "policy-scan" }

func (m *ScanMeta) clone() Metadata {
	out := *m
	return &out
}

// SyncMeta is the scratchpad for the recurring singleton classes
// (catalog sync and credential refresh).
type SyncMeta struct {
	Kind string `json:"kind"`
	// ItemsSeen is the catalog item count observed by the last sync.
	ItemsSeen int `json:"items_seen,omitempty"`
}

// BusinessKey implements Metadata.
func (m *SyncMeta) BusinessKey() string { return m.Kind }

func (m *SyncMeta) clone() Metadata {
	out := *m
	return &out
}
