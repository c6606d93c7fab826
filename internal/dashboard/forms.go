package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/client"
	"github.com/ukydev/fleet-insights/internal/models"
)

// ErrNothingPending is returned by Confirm when no deletion was requested.
var ErrNothingPending = errors.New("no deletion pending")

// FormState is what a form shows after a submit attempt.
type FormState struct {
	Banner string
	Fields map[string]string
}

// OK reports whether the last submit succeeded.
func (s FormState) OK() bool {
	return s.Banner == "" && len(s.Fields) == 0
}

func (s *FormState) reset() {
	s.Banner = ""
	s.Fields = nil
}

// fail turns a submit error into banner and field messages.
func (s *FormState) fail(err error, fallback string) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		s.Banner = ""
		s.Fields = verr.Fields
		return
	}
	s.Banner = client.Detail(err, fallback)
	s.Fields = client.FieldErrors(err)
}

// CarrierForm creates carriers.
type CarrierForm struct {
	api   FleetAPI
	Input models.CarrierInput
	State FormState
}

// NewCarrierForm returns an empty carrier form.
func NewCarrierForm(api FleetAPI) *CarrierForm {
	return &CarrierForm{api: api}
}

// Submit validates and creates the carrier. On success the form is cleared.
func (f *CarrierForm) Submit(ctx context.Context) (models.Carrier, error) {
	f.State.reset()
	in := f.Input.Normalize()
	if err := in.Validate(); err != nil {
		f.State.fail(err, "")
		return models.Carrier{}, err
	}
	created, err := f.api.CreateCarrier(ctx, in)
	if err != nil {
		f.State.fail(err, "Failed to create carrier.")
		return models.Carrier{}, err
	}
	f.Input = models.CarrierInput{}
	return created, nil
}

// VehicleForm creates vehicles.
type VehicleForm struct {
	api   FleetAPI
	Input models.VehicleInput
	State FormState
}

// NewVehicleForm returns a vehicle form preset to carrierID, which may be
// empty.
func NewVehicleForm(api FleetAPI, carrierID string) *VehicleForm {
	return &VehicleForm{api: api, Input: models.VehicleInput{CarrierID: carrierID}}
}

// Submit validates and creates the vehicle. The carrier is kept for the next
// entry.
func (f *VehicleForm) Submit(ctx context.Context) (models.Vehicle, error) {
	f.State.reset()
	in := f.Input.Normalize()
	if err := in.Validate(); err != nil {
		f.State.fail(err, "")
		return models.Vehicle{}, err
	}
	created, err := f.api.CreateVehicle(ctx, in)
	if err != nil {
		f.State.fail(err, "Failed to create vehicle.")
		return models.Vehicle{}, err
	}
	f.Input = models.VehicleInput{CarrierID: in.CarrierID}
	return created, nil
}

// Deletion is a two-step delete: RequestDelete opens the confirmation,
// Confirm performs it.
type Deletion struct {
	what   string
	remove func(ctx context.Context, id string) error
	logger log.FieldLogger

	mu      sync.Mutex
	pending string
	message string
}

// NewCarrierDeletion deletes carriers.
func NewCarrierDeletion(api FleetAPI, logger log.FieldLogger) *Deletion {
	return &Deletion{what: "carrier", remove: api.DeleteCarrier, logger: logger}
}

// NewVehicleDeletion deletes vehicles.
func NewVehicleDeletion(api FleetAPI, logger log.FieldLogger) *Deletion {
	return &Deletion{what: "vehicle", remove: api.DeleteVehicle, logger: logger}
}

// RequestDelete asks for confirmation to delete id.
func (d *Deletion) RequestDelete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = id
	d.message = ""
}

// Pending returns the id awaiting confirmation.
func (d *Deletion) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Message is the failure shown after the last Confirm.
func (d *Deletion) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// Cancel closes the confirmation without deleting.
func (d *Deletion) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = ""
}

// Confirm deletes the pending id. The confirmation closes either way.
func (d *Deletion) Confirm(ctx context.Context) error {
	d.mu.Lock()
	id := d.pending
	d.pending = ""
	d.mu.Unlock()
	if id == "" {
		return ErrNothingPending
	}

	if err := d.remove(ctx, id); err != nil {
		d.logger.WithError(err).WithField(d.what, id).Errorf("Failed to delete %s", d.what)
		d.mu.Lock()
		d.message = fmt.Sprintf("Failed to delete %s. Please try again.", d.what)
		d.mu.Unlock()
		return err
	}
	return nil
}
