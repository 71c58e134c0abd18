package jobs

import "github.com/pkg/errors"

var (
	// ErrJobNotFound marks an operation against an unknown or deleted job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidStateTransition marks a stage request issued before its
	// prerequisite stage completed. The job's state is left untouched.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrJobBusy marks a stage request against a job whose previous stage
	// request is still running; work is never double-enqueued.
	ErrJobBusy = errors.New("job busy")

	// ErrCollaboratorFailure wraps any segmentation or codec failure
	// surfaced during a background stage. It is recorded on the job and
	// reported through status queries, never thrown back to the request
	// that started the stage.
	ErrCollaboratorFailure = errors.New("collaborator failure")
)
