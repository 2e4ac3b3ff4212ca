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

// SampleRegistrationInput describes a sample being received into the lab.
type SampleRegistrationInput struct {
	SampleName      string            `json:"sample_name" validate:"required,max=255"`
	SampleType      string            `json:"sample_type" validate:"required,identifier"`
	SubmitterID     string            `json:"submitter_id" validate:"required,max=255"`
	SubmitterEmail  string            `json:"submitter_email" validate:"required,email"`
	VolumeUL        float64           `json:"volume_ul" validate:"gt=0"`
	TemperatureZone string            `json:"temperature_zone" validate:"required,oneof=rt 4c -20c -80c ln2"`
	CorrelationID   string            `json:"correlation_id,omitempty" validate:"omitempty,max=255"`
	TimeoutMs       int64             `json:"timeout_ms,omitempty" validate:"gte=0,lte=86400000"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type sampleRegistration struct {
	b  *Builder
	in SampleRegistrationInput

	reservationID string
	sampleID      string
	allocationID  string
	location      string
}

// SampleRegistration builds reserve_sample, allocate_storage and
// notify_submitter. Notification has no compensation.
func (b *Builder) SampleRegistration(in SampleRegistrationInput) (*Workflow, error) {
	if err := validator.Validate(&in); err != nil {
		return nil, err
	}

	w := &sampleRegistration{b: b, in: in}
	sg, err := b.newSaga([]*saga.Step{
		{Name: domain.StepReserveSample, Action: w.reserveSample, Compensation: w.releaseSample},
		{Name: domain.StepAllocateStorage, Action: w.allocateStorage, Compensation: w.releaseStorage},
		{Name: domain.StepNotifySubmitter, Action: w.notifySubmitter},
	})
	if err != nil {
		return nil, err
	}

	return &Workflow{
		Saga: sg,
		Request: &domain.TransactionRequest{
			Name:            fmt.Sprintf("Register sample %s", in.SampleName),
			TransactionType: domain.TransactionTypeSampleRegistration,
			UserID:          in.SubmitterID,
			CorrelationID:   in.CorrelationID,
			TimeoutMs:       in.TimeoutMs,
			Metadata:        in.Metadata,
			ContextData: map[string]any{
				"sample_name":      in.SampleName,
				"sample_type":      in.SampleType,
				"volume_ul":        in.VolumeUL,
				"temperature_zone": in.TemperatureZone,
			},
		},
	}, nil
}

func (w *sampleRegistration) reserveSample(ctx context.Context) error {
	req := struct {
		Name        string  `json:"name"`
		SampleType  string  `json:"sample_type"`
		SubmitterID string  `json:"submitter_id"`
		VolumeUL    float64 `json:"volume_ul"`
	}{w.in.SampleName, w.in.SampleType, w.in.SubmitterID, w.in.VolumeUL}

	var resp struct {
		ReservationID string `json:"reservation_id"`
		SampleID      string `json:"sample_id"`
	}
	url := w.b.endpoints.SampleServiceURL + "/api/v1/samples/reservations"
	if err := w.b.call(ctx, http.MethodPost, url, SampleService, req, &resp); err != nil {
		return err
	}
	w.reservationID = resp.ReservationID
	w.sampleID = resp.SampleID

	w.b.logger.InfoContext(ctx, "sample reserved",
		slog.String("sample_id", resp.SampleID),
		slog.String("reservation_id", resp.ReservationID),
	)
	return nil
}

func (w *sampleRegistration) releaseSample(ctx context.Context) error {
	if w.reservationID == "" {
		return nil
	}
	url := w.b.endpoints.SampleServiceURL + "/api/v1/samples/reservations/" + w.reservationID
	return w.b.release(ctx, http.MethodDelete, url, SampleService, nil)
}

func (w *sampleRegistration) allocateStorage(ctx context.Context) error {
	req := struct {
		SampleID        string  `json:"sample_id"`
		TemperatureZone string  `json:"temperature_zone"`
		VolumeUL        float64 `json:"volume_ul"`
	}{w.sampleID, w.in.TemperatureZone, w.in.VolumeUL}

	var resp struct {
		AllocationID string `json:"allocation_id"`
		Location     string `json:"location"`
	}
	url := w.b.endpoints.StorageServiceURL + "/api/v1/storage/allocations"
	if err := w.b.call(ctx, http.MethodPost, url, StorageService, req, &resp); err != nil {
		return err
	}
	w.allocationID = resp.AllocationID
	w.location = resp.Location

	w.b.logger.InfoContext(ctx, "storage allocated",
		slog.String("sample_id", w.sampleID),
		slog.String("allocation_id", resp.AllocationID),
		slog.String("location", resp.Location),
	)
	return nil
}

func (w *sampleRegistration) releaseStorage(ctx context.Context) error {
	if w.allocationID == "" {
		return nil
	}
	url := w.b.endpoints.StorageServiceURL + "/api/v1/storage/allocations/" + w.allocationID
	return w.b.release(ctx, http.MethodDelete, url, StorageService, nil)
}

func (w *sampleRegistration) notifySubmitter(ctx context.Context) error {
	req := struct {
		Recipient string            `json:"recipient"`
		Template  string            `json:"template"`
		Data      map[string]string `json:"data"`
	}{
		Recipient: w.in.SubmitterEmail,
		Template:  "sample_registered",
		Data: map[string]string{
			"sample_id":   w.sampleID,
			"sample_name": w.in.SampleName,
			"location":    w.location,
		},
	}
	url := w.b.endpoints.NotificationServiceURL + "/api/v1/notifications"
	return w.b.call(ctx, http.MethodPost, url, NotificationService, req, nil)
}
