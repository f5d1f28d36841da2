package checks

func NewResult(repo *Context, checkID string, status Status, message string) Result {
	res := Result{
		Status:  status,
		Repo:    repo.Name(),
		CheckID: checkID,
	}
	if message != "" {
		res.Message = message
	}
	return res
}

func PassResult(repo *Context, checkID string) Result {
	return NewResult(repo, checkID, StatusPass, "")
}

func PassResultWithMessage(repo *Context, checkID string, message string) Result {
	return NewResult(repo, checkID, StatusPass, message)
}

func FailResult(repo *Context, checkID string, message string) Result {
	return NewResult(repo, checkID, StatusFail, message)
}

func ErrorResult(repo *Context, checkID string, message string) Result {
	return NewResult(repo, checkID, StatusError, message)
}

func SkippedResult(repo *Context, checkID string, message string) Result {
	return NewResult(repo, checkID, StatusSkipped, message)
}

func FailResultWithMetadata(repo *Context, checkID string, message string, metadata map[string]any) Result {
	res := NewResult(repo, checkID, StatusFail, message)
	res.Metadata = metadata
	return res
}
