package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v43/github"
	"github.com/itchyny/gojq"
)

// supersedeMatcher decides if an open pull request was created by a previous
// sync run and is replaced by the pull request of the current run.
type supersedeMatcher struct {
	branchPrefix string
	title        string
	// filterQuery is an optional jq query that must evaluate to true for
	// the JSON representation of the pull request.
	filterQuery *gojq.Query
}

func newSupersedeMatcher(branchPrefix, title, jqQuery string) (*supersedeMatcher, error) {
	m := supersedeMatcher{
		branchPrefix: branchPrefix,
		title:        title,
	}

	if jqQuery == "" {
		return &m, nil
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing supersede filter query failed: %w", err)
	}

	m.filterQuery = query

	return &m, nil
}

// Match returns true if pr is superseded by the pull request with the number
// newPRNumber.
func (m *supersedeMatcher) Match(ctx context.Context, pr *github.PullRequest, newPRNumber int) (bool, error) {
	if !strings.HasPrefix(pr.GetHead().GetRef(), m.branchPrefix) {
		return false, nil
	}

	if pr.GetTitle() != m.title {
		return false, nil
	}

	if pr.GetNumber() == newPRNumber {
		return false, nil
	}

	if m.filterQuery == nil {
		return true, nil
	}

	return m.evalFilter(ctx, pr)
}

func (m *supersedeMatcher) evalFilter(ctx context.Context, pr *github.PullRequest) (bool, error) {
	var prUn any

	prJSON, err := json.Marshal(pr)
	if err != nil {
		return false, fmt.Errorf("marshaling pull request #%d to json failed: %w", pr.GetNumber(), err)
	}

	if err := json.Unmarshal(prJSON, &prUn); err != nil {
		return false, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(m.filterQuery.RunWithContext(ctx, prUn))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %w", m.filterQuery.String(), errors.Join(errs...))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), m.filterQuery.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], m.filterQuery.String(),
		)
	}

	return val, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}
