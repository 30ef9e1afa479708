package server

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"mindcal/internal/domain"
	"mindcal/internal/engine"
	"mindcal/internal/ical"
)

type eventQuery struct {
	StartDate     string `query:"start_date" doc:"Inclusive lower bound on start date; applies together with end_date"`
	EndDate       string `query:"end_date" doc:"Inclusive upper bound on start date; applies together with start_date"`
	MindMapNodeID string `query:"mind_map_node_id"`
}

func (q eventQuery) filter() (domain.EventFilter, error) {
	f := domain.EventFilter{MindMapNodeID: q.MindMapNodeID}
	if q.StartDate != "" {
		from, err := parseTimeField("start_date", q.StartDate)
		if err != nil {
			return f, err
		}
		f.From = &from
	}
	if q.EndDate != "" {
		to, err := parseTimeField("end_date", q.EndDate)
		if err != nil {
			return f, err
		}
		f.To = &to
	}
	return f, nil
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *eventQuery) (*struct {
		Body EventList `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		events, err := e.ListEvents(ctx, owner, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: EventList{Items: events}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.GetEvent(ctx, owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := input.Body.input()
		if err != nil {
			return nil, handleError(err)
		}
		ev, err := e.CreateEvent(ctx, owner, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-event",
		Method:      http.MethodPatch,
		Path:        "/events/{id}",
		Summary:     "Update event fields",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := input.Body.patch()
		if err != nil {
			return nil, handleError(err)
		}
		ev, err := e.UpdateEvent(ctx, owner, input.ID, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-event",
		Method:      http.MethodDelete,
		Path:        "/events/{id}",
		Summary:     "Delete event",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.DeleteEvent(ctx, owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})
}

// registerICS serves the iCalendar feed outside huma since it is not JSON.
func registerICS(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "events.ics"), func(w http.ResponseWriter, req *http.Request) {
		owner, authErr := ownerFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		q := eventQuery{
			StartDate:     req.URL.Query().Get("start_date"),
			EndDate:       req.URL.Query().Get("end_date"),
			MindMapNodeID: req.URL.Query().Get("mind_map_node_id"),
		}
		f, err := q.filter()
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		events, err := e.ListEvents(req.Context(), owner, f)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="mindcal.ics"`)
		if err := ical.Encode(w, events, time.Now()); err != nil && e.Log != nil {
			e.Log.WithError(err).WithField("owner_id", owner).Error("ics encode failed")
		}
	})
}
