package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mindcal/internal/domain"
	"mindcal/internal/engine"
)

func registerSync(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-import",
		Method:      http.MethodPost,
		Path:        "/sync/import",
		Summary:     "Import events from the external calendar",
		Description: "Copies upcoming remote events that have no local counterpart. Existing local events are left untouched.",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ImportResult `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cal, err := calendarFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ImportFromRemote(ctx, owner, cal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ImportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "sync-create-event",
		Method:        http.MethodPost,
		Path:          "/sync/events",
		Summary:       "Create an event on the external calendar and locally",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body SyncedEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		start, err := parseTimeField("start_date", input.Body.StartDate)
		if err != nil {
			return nil, handleError(err)
		}
		end, err := parseTimeField("end_date", input.Body.EndDate)
		if err != nil {
			return nil, handleError(err)
		}
		cal, err := calendarFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		ev, err := e.CreateSyncedEvent(ctx, owner, cal, engine.SyncedEventInput{
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Start:        start,
			End:          end,
			SourceTaskID: input.Body.SourceTaskID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Task and event counts",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Summary `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Summary(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Summary `json:"body"`
		}{Body: s}, nil
	})
}

func registerJournal(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Recent activity, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"200"`
	}) (*struct {
		Body JournalList `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Tail(ctx, owner, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.JournalEntry{}
		}
		return &struct {
			Body JournalList `json:"body"`
		}{Body: JournalList{Items: entries}}, nil
	})
}
