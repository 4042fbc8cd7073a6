package jobs

type JobType string

const (
	JobSendWelcome JobType = "send_welcome"

	// Future use cases

	JobExportTodosCSV JobType = "export_todos_csv"
)

// check to see if the job type is a known constant

func (t JobType) IsValid() bool {
	switch t {
	case JobSendWelcome, JobExportTodosCSV:
		return true
	default:
		return false
	}
}
