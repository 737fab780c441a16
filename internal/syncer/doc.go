// Package syncer keeps a branch of a repository in sync with a branch of an
// upstream repository.
//
// A Runner executes the sync pipeline once:
//
//   - configure the git committer identity,
//   - register or update the "upstream" remote and fetch the upstream branch,
//   - check out the target branch,
//   - count the upstream commits that are missing in the target branch, if
//     there are none the run ends,
//   - create a sync branch named PREFIX-RUNID, merge the upstream branch into
//     it and push it,
//   - create a pull request for the sync branch,
//   - comment on and close all other open pull requests that were created by
//     previous runs.
//
// Pull requests of previous runs are identified by their head branch starting
// with the branch prefix and their title being equal to the configured
// title.
// They are superseded by the new pull request, they are never updated.
//
// Each step moves the Runner from one State to the next. A failing step moves
// it to StateFailed and ends the run, there is no rollback of the steps that
// already were executed.
package syncer
