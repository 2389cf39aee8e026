package ripping

// EventKind discriminates rip stream events.
type EventKind int

const (
	// EventTitleStarted marks the beginning of one title's extraction.
	EventTitleStarted EventKind = iota
	// EventBytesWritten reports cumulative output bytes for the active title.
	EventBytesWritten
	// EventTitleFinished marks a title's output file as written.
	EventTitleFinished
	// EventTitleFailed marks one title as failed while the rip continues.
	EventTitleFailed
	// EventFatal aborts the whole rip.
	EventFatal
)

// Event is one record of the rip stream.
type Event struct {
	Kind            EventKind
	TitleIndex      int
	ExpectedBytes   int64
	CumulativeBytes int64
	OutputPath      string
	Message         string
}

// ScanTitle is one title as reported by a disc scan.
type ScanTitle struct {
	Index           int
	Name            string
	DurationSeconds int
	SizeBytes       int64
	ChapterCount    int
	Resolution      string
}

// RipTarget names one title to extract.
type RipTarget struct {
	Index         int
	ExpectedBytes int64
	OutputName    string
}
