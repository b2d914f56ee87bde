package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"switchboard/internal/domain"
	"switchboard/internal/engine"
)

type assignmentOutput struct {
	Body domain.Assignment `json:"body"`
}

type assignmentListOutput struct {
	Body []domain.Assignment `json:"body"`
}

func registerAssignments(api huma.API, e engine.Engine) {
	type assignmentListInput struct {
		JobID string `query:"job_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List assignments (active, or all for one job)",
	}, func(ctx context.Context, input *assignmentListInput) (*assignmentListOutput, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var (
			as  []domain.Assignment
			err error
		)
		if input.JobID != "" {
			as, err = e.Repo.ListAssignmentsForJob(ctx, input.JobID)
		} else {
			as, err = e.Repo.ListActiveAssignments(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &assignmentListOutput{Body: as}, nil
	})

	type createAssignmentInput struct {
		Body struct {
			JobID      string `json:"job_id" minLength:"1"`
			ResourceID string `json:"resource_id" minLength:"1"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments",
		Summary:     "Assign a resource to a job",
	}, func(ctx context.Context, input *createAssignmentInput) (*assignmentOutput, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssignment(ctx, input.Body.JobID, input.Body.ResourceID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &assignmentOutput{Body: a}, nil
	})

	type assignmentPath struct {
		AssignmentID string `path:"assignment_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "remove-assignment",
		Method:        http.MethodDelete,
		Path:          "/assignments/{assignment_id}",
		Summary:       "Remove an active assignment",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *assignmentPath) (*struct{}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveAssignment(ctx, input.AssignmentID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
