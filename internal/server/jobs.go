package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"switchboard/internal/domain"
	"switchboard/internal/engine"
)

type jobOutput struct {
	Body domain.Job `json:"body"`
}

type jobListOutput struct {
	Body []domain.Job `json:"body"`
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, _ *struct{}) (*jobListOutput, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		jobs, err := e.Repo.ListJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobListOutput{Body: jobs}, nil
	})

	type jobPath struct {
		JobID string `path:"job_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get a job with its comments",
	}, func(ctx context.Context, input *jobPath) (*jobOutput, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		comments, err := e.Repo.ListComments(ctx, j.ID)
		if err != nil {
			return nil, handleError(err)
		}
		j.Comments = comments
		return &jobOutput{Body: j}, nil
	})

	type createJobInput struct {
		Body struct {
			Synopsis    string   `json:"synopsis" minLength:"1"`
			Location    string   `json:"location,omitempty"`
			CallerName  string   `json:"caller_name,omitempty"`
			CallerPhone string   `json:"caller_phone,omitempty"`
			Comments    []string `json:"comments,omitempty"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-job",
		Method:      http.MethodPost,
		Path:        "/jobs",
		Summary:     "Create a job",
	}, func(ctx context.Context, input *createJobInput) (*jobOutput, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CreateJob(ctx, engine.JobCreateOptions{
			Synopsis:    input.Body.Synopsis,
			Location:    input.Body.Location,
			CallerName:  input.Body.CallerName,
			CallerPhone: input.Body.CallerPhone,
			Comments:    input.Body.Comments,
			ActorID:     p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOutput{Body: j}, nil
	})

	type addCommentInput struct {
		JobID string `path:"job_id"`
		Body  struct {
			Comment string `json:"comment" minLength:"1"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "add-comment",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/comments",
		Summary:     "Append a comment to a job",
	}, func(ctx context.Context, input *addCommentInput) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.JobID, input.Body.Comment, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-job",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/close",
		Summary:       "Close a job and release its resources",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *jobPath) (*struct{}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CloseJob(ctx, input.JobID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
