package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"ringi/internal/domain"
	"ringi/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

type WorkflowPath struct {
	DisplayNumber string `path:"display_number" doc:"WF-42 or 42"`
}

type StepPath struct {
	DisplayNumber     string `path:"display_number" doc:"WF-42 or 42"`
	StepDisplayNumber string `path:"step_display_number" doc:"STEP-7 or 7"`
}

func parseNumber(t domain.EntityType, raw string) (int64, huma.StatusError) {
	n, err := domain.ParseDisplayID(t, raw)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return n, nil
}

func requireBody(ctx context.Context) huma.StatusError {
	if len(bodyBytes(ctx)) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

func registerDefinitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-definitions",
		Method:      http.MethodGet,
		Path:        "/definitions",
		Summary:     "List workflow definitions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		All bool `query:"all" doc:"include drafts"`
	}) (*struct {
		Body []domain.Definition `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list := e.ListDefinitions
		if input.All {
			list = e.ListAllDefinitions
		}
		defs, err := list(ctx, p)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body []domain.Definition `json:"body"`
		}{Body: nonNilSlice(defs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-definition",
		Method:        http.MethodPost,
		Path:          "/definitions",
		Summary:       "Create a draft definition",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateDefinitionRequest `json:"body"`
	}) (*struct {
		Body domain.Definition `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.CreateDefinitionInput{Name: input.Body.Name, Steps: input.Body.Steps}
		if input.Body.Description != nil {
			in.Description = *input.Body.Description
		}
		def, err := e.CreateDefinition(ctx, p, in)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body domain.Definition `json:"body"`
		}{Body: def}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-definition",
		Method:      http.MethodGet,
		Path:        "/definitions/{id}",
		Summary:     "Get a definition",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Definition `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		def, err := e.GetDefinition(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body domain.Definition `json:"body"`
		}{Body: def}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-definition",
		Method:      http.MethodPost,
		Path:        "/definitions/{id}/publish",
		Summary:     "Publish a draft definition",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Definition `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		def, err := e.PublishDefinition(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body domain.Definition `json:"body"`
		}{Body: def}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create a draft workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body InstanceResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inst, err := e.CreateInstance(ctx, p, engine.CreateInstanceInput{
			DefinitionID: input.Body.DefinitionID,
			Title:        strings.TrimSpace(input.Body.Title),
			FormData:     input.Body.FormData,
		})
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body InstanceResponse `json:"body"`
		}{Body: instanceResponse(inst, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows I started",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit"`
		Before string `query:"before" doc:"continue below this display id"`
	}) (*struct {
		Body []InstanceResponse `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.ListInstancesInput{Limit: normalizeLimit(input.Limit)}
		if input.Before != "" {
			n, perr := parseNumber(domain.EntityWorkflowInstance, input.Before)
			if perr != nil {
				return nil, perr
			}
			in.Before = n
		}
		items, err := e.ListMyInstances(ctx, p, in)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body []InstanceResponse `json:"body"`
		}{Body: mapInstances(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{display_number}",
		Summary:     "Get a workflow with its steps",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *WorkflowPath) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
		if perr != nil {
			return nil, perr
		}
		w, err := e.GetInstanceByDisplayNumber(ctx, p, n)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w, engineNow(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-workflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{display_number}/submit",
		Summary:     "Submit a draft for approval",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowPath
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
		if perr != nil {
			return nil, perr
		}
		w, err := e.SubmitByDisplayNumber(ctx, p, n, engine.SubmitInput{Approvers: input.Body.Approvers, Version: input.Body.Version})
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w, engineNow(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-workflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{display_number}/resubmit",
		Summary:     "Resubmit a rejected or change-requested workflow",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowPath
		Body ResubmitRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
		if perr != nil {
			return nil, perr
		}
		w, err := e.ResubmitByDisplayNumber(ctx, p, n, engine.ResubmitInput{
			Approvers: input.Body.Approvers,
			FormData:  input.Body.FormData,
			Version:   input.Body.Version,
		})
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w, engineNow(e))}, nil
	})
}

type decideFunc func(engine.Engine, context.Context, engine.Principal, int64, int64, engine.DecisionInput) (engine.WorkflowWithSteps, error)

func registerDecisions(api huma.API, e engine.Engine) {
	for _, d := range []struct {
		id, verb, summary string
		decide            decideFunc
	}{
		{"approve-step", "approve", "Approve the active step", engine.Engine.ApproveByDisplayNumber},
		{"reject-step", "reject", "Reject the workflow at the active step", engine.Engine.RejectByDisplayNumber},
		{"request-changes", "request-changes", "Send the workflow back to the initiator", engine.Engine.RequestChangesByDisplayNumber},
	} {
		huma.Register(api, huma.Operation{
			OperationID: d.id,
			Method:      http.MethodPost,
			Path:        "/workflows/{display_number}/steps/{step_display_number}/" + d.verb,
			Summary:     d.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			StepPath
			Body DecisionRequest `json:"body"`
		}) (*struct {
			Body WorkflowResponse `json:"body"`
		}, error) {
			if err := requireBody(ctx); err != nil {
				return nil, err
			}
			p, authErr := callerFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			wf, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
			if perr != nil {
				return nil, perr
			}
			st, perr := parseNumber(domain.EntityWorkflowStep, input.StepDisplayNumber)
			if perr != nil {
				return nil, perr
			}
			w, err := d.decide(e, ctx, p, wf, st, engine.DecisionInput{Version: input.Body.Version, Comment: input.Body.Comment})
			if err != nil {
				return nil, handleError(ctx, e, err)
			}
			return &struct {
				Body WorkflowResponse `json:"body"`
			}{Body: workflowResponse(w, engineNow(e))}, nil
		})
	}
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/workflows/{display_number}/comments",
		Summary:     "List comments, oldest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *WorkflowPath) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListComments(ctx, p, n)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-comment",
		Method:        http.MethodPost,
		Path:          "/workflows/{display_number}/comments",
		Summary:       "Comment on a workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowPath
		Body PostCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
		if perr != nil {
			return nil, perr
		}
		c, err := e.PostComment(ctx, p, n, input.Body.Body)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Active steps waiting on me",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListMyTasks(ctx, p)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks, engineNow(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{display_number}/{step_display_number}",
		Summary:     "One of my steps with its workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *StepPath) (*struct {
		Body TaskDetailResponse `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wf, perr := parseNumber(domain.EntityWorkflowInstance, input.DisplayNumber)
		if perr != nil {
			return nil, perr
		}
		st, perr := parseNumber(domain.EntityWorkflowStep, input.StepDisplayNumber)
		if perr != nil {
			return nil, perr
		}
		detail, err := e.GetTaskByDisplayNumbers(ctx, p, wf, st)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body TaskDetailResponse `json:"body"`
		}{Body: taskDetailResponse(detail, engineNow(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "My workload counters",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DashboardStats `json:"body"`
	}, error) {
		p, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.DashboardStats(ctx, p)
		if err != nil {
			return nil, handleError(ctx, e, err)
		}
		return &struct {
			Body engine.DashboardStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		out := WhoAmIResponse{TenantID: principal.TenantID, ActorID: principal.ActorID, Source: principal.Source}
		if e.Names != nil {
			if names, err := e.Names.ResolveNames(ctx, principal.TenantID, []string{principal.ActorID}); err == nil {
				out.Name = names[principal.ActorID]
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		tenant := strings.TrimSpace(input.Body.TenantID)
		actor := strings.TrimSpace(input.Body.ActorID)
		if tenant == "" || actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tenant_id and actor_id are required", nil)
		}
		if _, err := e.Repo.GetTenant(ctx, tenant); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tenant "+tenant+" is not provisioned", nil)
		}
		now := engineNow(e)
		ttl := time.Duration(input.Body.TTLSeconds) * time.Second
		token, err := signDevToken(authCfg.JWTSecret, tenant, actor, ttl, now)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		if ttl <= 0 {
			ttl = 12 * time.Hour
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ExpiresAt: domain.Timestamp(now.Add(ttl))}}, nil
	})
}
