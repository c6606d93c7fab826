package handlers

import (
	"errors"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/middleware"
	"github.com/ukydev/fleet-insights/internal/models"
)

var errNoCarrier = errors.New("account has no carrier")

// viewer is the authenticated caller with its ids parsed.
type viewer struct {
	claims    *models.Claims
	userID    primitive.ObjectID
	carrierID primitive.ObjectID
	driverID  primitive.ObjectID
}

func (v viewer) isAdmin() bool  { return v.claims.Role == models.RoleAdmin }
func (v viewer) isDriver() bool { return v.claims.Role == models.RoleDriver }

// scope limits listings: managers to their carrier, drivers to themselves.
func (v viewer) scope() db.Scope {
	switch v.claims.Role {
	case models.RoleManager:
		return db.ForCarrier(v.carrierID)
	case models.RoleDriver:
		return db.Scope{CarrierID: v.carrierID, DriverID: v.driverID}
	default:
		return db.Scope{}
	}
}

// canSee reports whether records of carrier are visible to the viewer.
func (v viewer) canSee(carrier primitive.ObjectID) bool {
	return v.isAdmin() || v.carrierID == carrier
}

func viewerFrom(r *http.Request) (viewer, error) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return viewer{}, errors.New("user context not found")
	}
	v := viewer{claims: claims}
	v.userID, _ = primitive.ObjectIDFromHex(claims.UserID)
	if claims.CarrierID != "" {
		v.carrierID, _ = primitive.ObjectIDFromHex(claims.CarrierID)
	}
	if claims.DriverID != "" {
		v.driverID, _ = primitive.ObjectIDFromHex(claims.DriverID)
	}
	if !v.isAdmin() && v.carrierID.IsZero() {
		return v, errNoCarrier
	}
	return v, nil
}

// requireViewer writes the error response itself and reports success.
func requireViewer(w http.ResponseWriter, r *http.Request) (viewer, bool) {
	v, err := viewerFrom(r)
	switch {
	case errors.Is(err, errNoCarrier):
		writeError(w, http.StatusForbidden, "No carrier is assigned to this account.")
		return v, false
	case err != nil:
		writeError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
		return v, false
	}
	return v, true
}
