package chunk

// Status represents the lifecycle state of a result chunk.
type Status string

const (
	// StatusPending means no download link has been assigned yet.
	StatusPending Status = "PENDING"
	// StatusURLFetched means the download link is known and the chunk can be fetched.
	StatusURLFetched Status = "URL_FETCHED"
	// StatusDownloadInProgress is declared for completeness. No transition
	// leads to it; see the transition table.
	StatusDownloadInProgress Status = "DOWNLOAD_IN_PROGRESS"
	// StatusDownloadSucceeded means the raw bytes are held by the chunk.
	StatusDownloadSucceeded Status = "DOWNLOAD_SUCCEEDED"
	// StatusProcessingSucceeded means the records are decoded and ready to read.
	StatusProcessingSucceeded Status = "PROCESSING_SUCCEEDED"
	// StatusDownloadFailed means the last fetch attempt failed.
	StatusDownloadFailed Status = "DOWNLOAD_FAILED"
	// StatusProcessingFailed means decompression or deserialization failed.
	StatusProcessingFailed Status = "PROCESSING_FAILED"
	// StatusCancelled means the transport cancelled the fetch.
	StatusCancelled Status = "CANCELLED"
	// StatusReleased means the chunk memory was reclaimed. Terminal.
	StatusReleased Status = "CHUNK_RELEASED"
	// StatusDownloadRetry means a failed fetch is waiting to be retried.
	StatusDownloadRetry Status = "DOWNLOAD_RETRY"
)

// Statuses lists every declared status.
var Statuses = []Status{
	StatusPending,
	StatusURLFetched,
	StatusDownloadInProgress,
	StatusDownloadSucceeded,
	StatusProcessingSucceeded,
	StatusDownloadFailed,
	StatusProcessingFailed,
	StatusCancelled,
	StatusReleased,
	StatusDownloadRetry,
}

// transitions maps each status to the statuses it may move to.
// StatusDownloadInProgress is intentionally absent on both sides.
var transitions = map[Status][]Status{
	StatusPending:             {StatusURLFetched, StatusReleased},
	StatusURLFetched:          {StatusDownloadSucceeded, StatusDownloadFailed, StatusCancelled, StatusReleased},
	StatusDownloadSucceeded:   {StatusProcessingSucceeded, StatusProcessingFailed, StatusReleased},
	StatusProcessingSucceeded: {StatusReleased},
	StatusDownloadFailed:      {StatusDownloadRetry, StatusReleased},
	StatusProcessingFailed:    {StatusReleased},
	StatusCancelled:           {StatusReleased},
	StatusDownloadRetry:       {StatusURLFetched, StatusReleased},
	StatusReleased:            {},
}

func (s Status) String() string {
	return string(s)
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
