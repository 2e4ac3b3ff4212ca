package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/validator"
)

// LibraryPrepInput describes a batch of samples going to sequencing.
type LibraryPrepInput struct {
	BatchName     string            `json:"batch_name" validate:"required,max=255"`
	SampleIDs     []string          `json:"sample_ids" validate:"required,min=1,max=384,dive,required"`
	ReagentKit    string            `json:"reagent_kit" validate:"required,max=100"`
	Platform      string            `json:"platform" validate:"required,identifier"`
	ReadLength    int               `json:"read_length" validate:"required,gt=0,lte=1000"`
	RequestedBy   string            `json:"requested_by" validate:"required,max=255"`
	CorrelationID string            `json:"correlation_id,omitempty" validate:"omitempty,max=255"`
	TimeoutMs     int64             `json:"timeout_ms,omitempty" validate:"gte=0,lte=86400000"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type libraryPrep struct {
	b  *Builder
	in LibraryPrepInput

	lockID        string
	reservationID string
	runID         string
}

// LibraryPrep builds lock_samples, reserve_reagents and
// schedule_sequencing_run.
func (b *Builder) LibraryPrep(in LibraryPrepInput) (*Workflow, error) {
	if err := validator.Validate(&in); err != nil {
		return nil, err
	}

	w := &libraryPrep{b: b, in: in}
	sg, err := b.newSaga([]*saga.Step{
		{Name: domain.StepLockSamples, Action: w.lockSamples, Compensation: w.unlockSamples},
		{Name: domain.StepReserveReagents, Action: w.reserveReagents, Compensation: w.releaseReagents},
		{Name: domain.StepScheduleSequencingRun, Action: w.scheduleRun, Compensation: w.cancelRun},
	})
	if err != nil {
		return nil, err
	}

	return &Workflow{
		Saga: sg,
		Request: &domain.TransactionRequest{
			Name:            fmt.Sprintf("Library prep %s", in.BatchName),
			TransactionType: domain.TransactionTypeLibraryPrep,
			UserID:          in.RequestedBy,
			CorrelationID:   in.CorrelationID,
			TimeoutMs:       in.TimeoutMs,
			Metadata:        in.Metadata,
			ContextData: map[string]any{
				"batch_name":   in.BatchName,
				"sample_count": len(in.SampleIDs),
				"reagent_kit":  in.ReagentKit,
				"platform":     in.Platform,
				"read_length":  in.ReadLength,
			},
		},
	}, nil
}

func (w *libraryPrep) lockSamples(ctx context.Context) error {
	req := struct {
		SampleIDs []string `json:"sample_ids"`
		Reason    string   `json:"reason"`
	}{w.in.SampleIDs, "library_prep"}

	var resp struct {
		LockID string `json:"lock_id"`
	}
	url := w.b.endpoints.SampleServiceURL + "/api/v1/samples/locks"
	if err := w.b.call(ctx, http.MethodPost, url, SampleService, req, &resp); err != nil {
		return err
	}
	w.lockID = resp.LockID

	w.b.logger.InfoContext(ctx, "samples locked",
		slog.String("lock_id", resp.LockID),
		slog.Int("sample_count", len(w.in.SampleIDs)),
	)
	return nil
}

func (w *libraryPrep) unlockSamples(ctx context.Context) error {
	if w.lockID == "" {
		return nil
	}
	url := w.b.endpoints.SampleServiceURL + "/api/v1/samples/locks/" + w.lockID
	return w.b.release(ctx, http.MethodDelete, url, SampleService, nil)
}

func (w *libraryPrep) reserveReagents(ctx context.Context) error {
	req := struct {
		Kit       string `json:"kit"`
		Reactions int    `json:"reactions"`
	}{w.in.ReagentKit, len(w.in.SampleIDs)}

	var resp struct {
		ReservationID string `json:"reservation_id"`
	}
	url := w.b.endpoints.StorageServiceURL + "/api/v1/reagents/reservations"
	if err := w.b.call(ctx, http.MethodPost, url, StorageService, req, &resp); err != nil {
		return err
	}
	w.reservationID = resp.ReservationID
	return nil
}

func (w *libraryPrep) releaseReagents(ctx context.Context) error {
	if w.reservationID == "" {
		return nil
	}
	url := w.b.endpoints.StorageServiceURL + "/api/v1/reagents/reservations/" + w.reservationID
	return w.b.release(ctx, http.MethodDelete, url, StorageService, nil)
}

func (w *libraryPrep) scheduleRun(ctx context.Context) error {
	req := struct {
		SampleIDs  []string `json:"sample_ids"`
		Platform   string   `json:"platform"`
		ReadLength int      `json:"read_length"`
		LockID     string   `json:"lock_id"`
	}{w.in.SampleIDs, w.in.Platform, w.in.ReadLength, w.lockID}

	var resp struct {
		RunID string `json:"run_id"`
	}
	url := w.b.endpoints.SequencingServiceURL + "/api/v1/runs"
	if err := w.b.call(ctx, http.MethodPost, url, SequencingService, req, &resp); err != nil {
		return err
	}
	w.runID = resp.RunID

	w.b.logger.InfoContext(ctx, "sequencing run scheduled",
		slog.String("run_id", resp.RunID),
		slog.String("platform", w.in.Platform),
	)
	return nil
}

func (w *libraryPrep) cancelRun(ctx context.Context) error {
	if w.runID == "" {
		return nil
	}
	url := w.b.endpoints.SequencingServiceURL + "/api/v1/runs/" + w.runID + "/cancel"
	return w.b.release(ctx, http.MethodPost, url, SequencingService, nil)
}
