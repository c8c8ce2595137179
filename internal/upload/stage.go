package upload

// Stage is the pipeline stage shown to the user while a run is in flight.
// Only the reducer sets it.
type Stage int

const (
	StageIdle Stage = iota
	StageSaving
	StagePreprocessing
	StageEmbedding
	StageIndexing
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSaving:
		return "saving"
	case StagePreprocessing:
		return "preprocessing"
	case StageEmbedding:
		return "embedding"
	case StageIndexing:
		return "indexing"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Label is the pipeline step caption.
func (s Stage) Label() string {
	switch s {
	case StageSaving:
		return "Images Saved"
	case StagePreprocessing:
		return "Preprocessing"
	case StageEmbedding:
		return "Embedding Gen"
	case StageIndexing:
		return "Index Update"
	case StageDone:
		return "Done"
	default:
		return ""
	}
}

// Steps are the four visible pipeline steps, in order.
var Steps = []Stage{StageSaving, StagePreprocessing, StageEmbedding, StageIndexing}

// StepState is how one pipeline step renders relative to the current stage.
type StepState int

const (
	StepWaiting StepState = iota
	StepActive
	StepCompleted
)

func (s StepState) String() string {
	switch s {
	case StepActive:
		return "active"
	case StepCompleted:
		return "completed"
	default:
		return "waiting"
	}
}

// StepStatus reports whether step is completed, active, or still waiting
// given the current stage.
func StepStatus(current, step Stage) StepState {
	switch {
	case current > step:
		return StepCompleted
	case current == step:
		return StepActive
	default:
		return StepWaiting
	}
}

// StageFor derives the chunked-run stage from committed progress:
// below 25% Saving, below 50% Preprocessing, below 75% Embedding,
// otherwise Indexing. Done is set only when every chunk has succeeded.
func StageFor(p Progress) Stage {
	pct := p.Percent()
	switch {
	case pct < 25:
		return StageSaving
	case pct < 50:
		return StagePreprocessing
	case pct < 75:
		return StageEmbedding
	default:
		return StageIndexing
	}
}

// Status is the coarse run state.
type Status int

const (
	StatusIdle Status = iota
	StatusUploading
	StatusSuccess
)

func (s Status) String() string {
	switch s {
	case StatusUploading:
		return "uploading"
	case StatusSuccess:
		return "success"
	default:
		return "idle"
	}
}

// Progress counts files committed by the backend in the current run.
// Processed never decreases within a run and never exceeds Total.
type Progress struct {
	Processed int
	Total     int
}

// Percent returns Processed/Total in [0,100]; 0 when Total is 0.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Ratio returns Processed/Total in [0,1] for progress bars.
func (p Progress) Ratio() float64 {
	return p.Percent() / 100
}
