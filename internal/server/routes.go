package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"buildledger/internal/domain"
	"buildledger/internal/engine"
	"buildledger/internal/engine/auth"
	"buildledger/internal/events"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// requireRole rejects callers without the required role before the request
// body is parsed. The engine repeats the check inside its transaction.
func requireRole(ctx context.Context, e engine.Engine, actorID string, required domain.Role) error {
	role, err := e.RoleOf(ctx, actorID)
	if err != nil {
		return handleError(err)
	}
	if err := auth.Require(role, required); err != nil {
		return handleError(err)
	}
	return nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-participant",
		Method:        http.MethodPost,
		Path:          "/participants",
		Summary:       "Register a participant with one role",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterParticipantRequest `json:"body"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		principal, perr := principalFromRequest(ctx)
		if perr != nil {
			return nil, perr
		}
		p, err := e.RegisterParticipant(ctx, principal.ActorID, input.Body.Identity, domain.ParseRole(input.Body.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/participants",
		Summary:     "List registered participants",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" doc:"Only participants holding this role"`
	}) (*struct {
		Body []ParticipantResponse `json:"body"`
	}, error) {
		role := domain.RoleNone
		if input.Role != "" {
			role = domain.ParseRole(input.Role)
			if role == domain.RoleNone {
				return nil, badRequest("unknown role", map[string]any{"role": input.Role})
			}
		}
		items, err := e.ListParticipants(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ParticipantResponse `json:"body"`
		}{Body: mapSlice(items, participantResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-participant",
		Method:      http.MethodGet,
		Path:        "/participants/{identity}",
		Summary:     "Get a participant; unknown identities report role none",
	}, func(ctx context.Context, input *struct {
		Identity string `path:"identity"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		p, err := e.GetParticipant(ctx, input.Identity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})
}

type milestonePath struct {
	ID int64 `path:"id" minimum:"0"`
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-milestone",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/submit",
		Summary:     "Submit or resubmit milestone evidence",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id" minimum:"0"`
		Body SubmitMilestoneRequest `json:"body"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		principal, perr := principalFromRequest(ctx)
		if perr != nil {
			return nil, perr
		}
		if err := requireRole(ctx, e, principal.ActorID, domain.RoleContractor); err != nil {
			return nil, err
		}
		hashes, err := domain.ParseHashes(input.Body.Hashes)
		if err != nil {
			return nil, badRequest(err.Error(), nil)
		}
		m, err := e.SubmitMilestone(ctx, principal.ActorID, input.ID, input.Body.Description, hashes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: milestoneResponse(m)}, nil
	})

	reviews := []struct {
		id      string
		path    string
		summary string
		apply   func(context.Context, string, int64) (domain.Milestone, error)
	}{
		{"request-changes", "/milestones/{id}/request-changes", "Send a submitted milestone back for revision", e.RequestChanges},
		{"verify-milestone", "/milestones/{id}/verify", "Verify a submitted milestone", e.VerifyMilestone},
		{"approve-milestone", "/milestones/{id}/approve", "Approve a verified milestone", e.ApproveMilestone},
	}
	for _, rv := range reviews {
		apply := rv.apply
		huma.Register(api, huma.Operation{
			OperationID: rv.id,
			Method:      http.MethodPost,
			Path:        rv.path,
			Summary:     rv.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *milestonePath) (*struct {
			Body MilestoneResponse `json:"body"`
		}, error) {
			principal, perr := principalFromRequest(ctx)
			if perr != nil {
				return nil, perr
			}
			m, err := apply(ctx, principal.ActorID, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body MilestoneResponse `json:"body"`
			}{Body: milestoneResponse(m)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/milestones",
		Summary:     "List milestones",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"SUBMITTED, REVISION_REQUIRED, VERIFIED or APPROVED"`
	}) (*struct {
		Body []MilestoneResponse `json:"body"`
	}, error) {
		var status domain.MilestoneStatus
		if input.Status != "" {
			s, ok := domain.ParseMilestoneStatus(input.Status)
			if !ok {
				return nil, badRequest("unknown milestone status", map[string]any{"status": input.Status})
			}
			status = s
		}
		items, err := e.ListMilestones(ctx, status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MilestoneResponse `json:"body"`
		}{Body: mapSlice(items, milestoneResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-milestone",
		Method:      http.MethodGet,
		Path:        "/milestones/{id}",
		Summary:     "Get a milestone; never-submitted ids report NOT_CREATED",
	}, func(ctx context.Context, input *milestonePath) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		m, err := e.GetMilestone(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: milestoneResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "milestone-deliveries",
		Method:      http.MethodGet,
		Path:        "/milestones/{id}/deliveries",
		Summary:     "Deliveries logged against a milestone, in logging order",
	}, func(ctx context.Context, input *milestonePath) (*struct {
		Body MilestoneDeliveriesResponse `json:"body"`
	}, error) {
		items, err := e.DeliveriesForMilestone(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		ids := make([]int64, 0, len(items))
		for _, d := range items {
			ids = append(ids, d.ID)
		}
		return &struct {
			Body MilestoneDeliveriesResponse `json:"body"`
		}{Body: MilestoneDeliveriesResponse{
			MilestoneID: input.ID,
			DeliveryIDs: ids,
			Items:       mapSlice(items, deliveryResponse),
		}}, nil
	})
}

func registerDeliveries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-delivery",
		Method:        http.MethodPost,
		Path:          "/deliveries",
		Summary:       "Log a material delivery against a milestone",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body LogDeliveryRequest `json:"body"`
	}) (*struct {
		Body DeliveryResponse `json:"body"`
	}, error) {
		principal, perr := principalFromRequest(ctx)
		if perr != nil {
			return nil, perr
		}
		if err := requireRole(ctx, e, principal.ActorID, domain.RoleSupplier); err != nil {
			return nil, err
		}
		h, err := domain.ParseHash(input.Body.Hash)
		if err != nil {
			return nil, badRequest("hash: "+err.Error(), nil)
		}
		d, err := e.LogDelivery(ctx, principal.ActorID, input.Body.DeliveryID, input.Body.MilestoneID, h, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliveryResponse `json:"body"`
		}{Body: deliveryResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deliveries",
		Method:      http.MethodGet,
		Path:        "/deliveries",
		Summary:     "List deliveries in logging order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DeliveryResponse `json:"body"`
	}, error) {
		items, err := e.ListDeliveries(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DeliveryResponse `json:"body"`
		}{Body: mapSlice(items, deliveryResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delivery",
		Method:      http.MethodGet,
		Path:        "/deliveries/{id}",
		Summary:     "Get a delivery; unused ids report exists=false",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id" minimum:"0"`
	}) (*struct {
		Body DeliveryResponse `json:"body"`
	}, error) {
		d, err := e.GetDelivery(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliveryResponse `json:"body"`
		}{Body: deliveryResponse(d)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Record a document hash in the audit log",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterDocumentRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		principal, perr := principalFromRequest(ctx)
		if perr != nil {
			return nil, perr
		}
		h, err := domain.ParseHash(input.Body.Hash)
		if err != nil {
			return nil, badRequest("hash: "+err.Error(), nil)
		}
		ev, err := e.RegisterDocumentHash(ctx, principal.ActorID, h, input.Body.DocType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Page through the audit log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind        string `query:"kind"`
		ActorID     string `query:"actor_id"`
		MilestoneID string `query:"milestone_id"`
		DeliveryID  string `query:"delivery_id"`
		After       string `query:"after" doc:"next_cursor from the previous page"`
		Limit       int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		f := events.Filter{Kind: input.Kind, ActorID: input.ActorID}
		var err error
		if f.MilestoneID, err = parseOptionalID("milestone_id", input.MilestoneID); err != nil {
			return nil, badRequest(err.Error(), nil)
		}
		if f.DeliveryID, err = parseOptionalID("delivery_id", input.DeliveryID); err != nil {
			return nil, badRequest(err.Error(), nil)
		}
		if input.After != "" {
			f.AfterSeq, err = strconv.ParseInt(input.After, 10, 64)
			if err != nil || f.AfterSeq < 0 {
				return nil, badRequest("invalid cursor", map[string]any{"after": input.After})
			}
		}
		limit := normalizeLimit(input.Limit)
		f.Limit = limit + 1
		items, err := e.Events(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		page := paginatedEvents{}
		if len(items) > limit {
			items = items[:limit]
			page.NextCursor = strconv.FormatInt(items[len(items)-1].Seq, 10)
		}
		page.Items = mapSlice(items, eventResponse)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-events",
		Method:      http.MethodGet,
		Path:        "/events/verify",
		Summary:     "Recompute the audit hash chain",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body VerifyReportResponse `json:"body"`
	}, error) {
		report, err := e.VerifyLog(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerifyReportResponse `json:"body"`
		}{Body: verifyReportResponse(report)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Caller identity and role",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, perr := principalFromRequest(ctx)
		if perr != nil {
			return nil, perr
		}
		p, err := e.GetParticipant(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			Identity:   principal.ActorID,
			Role:       p.Role.String(),
			Registered: p.Registered,
			Source:     principal.Source,
		}}, nil
	})
}

func parseOptionalID(name, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
