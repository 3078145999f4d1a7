package resource

// LoadOutcome tags the result of loading one declaration. Skip means the
// declaration belongs to a kind handled elsewhere; Drop means it was
// rejected with a diagnostic and the run continues without it.
type LoadOutcome int

const (
	LoadValue LoadOutcome = iota
	LoadSkip
	LoadDrop
)

type LoadResult struct {
	Outcome     LoadOutcome
	Declaration Declaration
	Reason      string
}

func Loaded(declaration Declaration) LoadResult {
	return LoadResult{Outcome: LoadValue, Declaration: declaration}
}

func Skipped(reason string) LoadResult {
	return LoadResult{Outcome: LoadSkip, Reason: reason}
}

func Dropped(reason string) LoadResult {
	return LoadResult{Outcome: LoadDrop, Reason: reason}
}
