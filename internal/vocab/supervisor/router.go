package supervisor

// TaskType distinguishes the kind of LLM call being made, so the router can
// pick a cheap or strong model per call. QualityCheck always uses the
// strong model; every other task type starts cheap and upgrades once a
// tool has been retried more than once.
type TaskType string

const (
	TaskSupervision    TaskType = "supervision"
	TaskValidation     TaskType = "validation"
	TaskQualityCheck   TaskType = "quality_check"
	TaskTranslation    TaskType = "translation"
	TaskExamples       TaskType = "examples"
	TaskSynonyms       TaskType = "synonyms"
	TaskSyllables      TaskType = "syllables"
	TaskConjugation    TaskType = "conjugation"
	TaskMediaSelection TaskType = "media_selection"
	TaskClassification TaskType = "classification"
)

// Router picks between a cheap "executor" model and a strong "supervisor"
// model per attempt, mirroring the reference implementation's
// LLMRouter.get_model_for_task.
type Router struct {
	ExecutorModel   string
	SupervisorModel string
}

// ModelFor returns the model identifier to use for a given task type and
// retry count. Quality checks always use the strong model; other task
// types upgrade to it once the tool has already been retried more than
// once (num_retries > 1).
func (r Router) ModelFor(task TaskType, numRetries int) string {
	if task == TaskQualityCheck {
		return r.SupervisorModel
	}
	if numRetries > 1 {
		return r.SupervisorModel
	}
	return r.ExecutorModel
}
