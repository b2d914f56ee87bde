package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"switchboard/internal/domain"
	"switchboard/internal/engine"
)

type resourceOutput struct {
	Body domain.Resource `json:"body"`
}

type resourceListOutput struct {
	Body []domain.Resource `json:"body"`
}

func registerResources(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/resources",
		Summary:     "List resources with assignment state",
	}, func(ctx context.Context, _ *struct{}) (*resourceListOutput, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		resources, err := e.ListResources(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &resourceListOutput{Body: resources}, nil
	})

	type createResourceInput struct {
		Body struct {
			DisplayName string `json:"display_name" minLength:"1"`
			Comment     string `json:"comment,omitempty"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-resource",
		Method:      http.MethodPost,
		Path:        "/resources",
		Summary:     "Create a resource",
	}, func(ctx context.Context, input *createResourceInput) (*resourceOutput, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateResource(ctx, input.Body.DisplayName, input.Body.Comment, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &resourceOutput{Body: r}, nil
	})

	type inServiceInput struct {
		ResourceID string `path:"resource_id"`
		Body       struct {
			InService bool `json:"in_service"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "set-resource-inservice",
		Method:        http.MethodPost,
		Path:          "/resources/{resource_id}/inservice",
		Summary:       "Set resource service status",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *inServiceInput) (*struct{}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetResourceServiceStatus(ctx, input.ResourceID, input.Body.InService, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	type locationInput struct {
		ResourceID string `path:"resource_id"`
		Body       struct {
			Lat float64 `json:"lat" minimum:"-90" maximum:"90"`
			Lon float64 `json:"lon" minimum:"-180" maximum:"180"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "set-resource-location",
		Method:        http.MethodPost,
		Path:          "/resources/{resource_id}/location",
		Summary:       "Record a resource location",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *locationInput) (*struct{}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetResourceLocation(ctx, input.ResourceID, input.Body.Lat, input.Body.Lon, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
