package handlers

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/auth"
	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/middleware"
	"github.com/ukydev/fleet-insights/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService *auth.Service
	users       db.UserCollection
	drivers     db.DriverCollection
	carriers    db.CarrierCollection
	notify      notifier
	logger      log.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, store *db.Store, publisher events.Publisher, logger log.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		users:       store.Users,
		drivers:     store.Drivers,
		carriers:    store.Carriers,
		notify:      notifier{publisher: publisher, logger: logger},
		logger:      logger,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := decodeJSON(r, &loginReq); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if loginReq.Username == "" || loginReq.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.users.FindUserByUsername(r.Context(), loginReq.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.WithError(err).Error("Failed to look up user")
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}

	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate token")
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if err := h.users.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID.Hex()).Warn("Failed to update last login")
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

// Register handles user registration. Managers and drivers get a Driver
// record in their carrier.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Role == "" {
		req.Role = models.RoleDriver
	}

	if err := h.authService.ValidateRegistration(req); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeFieldErrors(w, verr)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if _, err := h.users.FindUserByUsername(ctx, req.Username); err == nil {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}
	if _, err := h.users.FindUserByEmail(ctx, req.Email); err == nil {
		writeError(w, http.StatusConflict, "Email already exists")
		return
	}

	var carrier *models.Carrier
	if req.Role != models.RoleAdmin {
		c, err := h.carriers.FindCarrierByID(ctx, req.CarrierID)
		if err != nil {
			fieldError(w, "carrier", "Invalid carrier")
			return
		}
		carrier = c
	}

	passwordHash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		h.logger.WithError(err).Error("Failed to hash password")
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         req.Role,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		IsActive:     true,
	}
	if carrier != nil {
		user.CarrierID = &carrier.ID
	}

	user, err = h.users.InsertUser(ctx, user)
	if err != nil {
		writeStoreError(w, err, "User", h.logger)
		return
	}

	if carrier != nil {
		if err := h.attachDriver(r, &user, carrier, req.LicenseNumber); err != nil {
			logger := h.logger.WithField("user_id", user.ID.Hex())
			logger.WithError(err).Error("Failed to create driver record")
			if derr := h.users.DeleteUser(ctx, user.ID.Hex()); derr != nil {
				logger.WithError(derr).Error("Failed to remove user without driver record")
			}
			writeError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}
		h.notify.mutated(ctx, "driver", "create", events.KeyDrivers)
	}

	token, err := h.authService.GenerateToken(&user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.logger.WithFields(log.Fields{"username": user.Username, "role": user.Role}).Info("User registered")
	writeJSON(w, http.StatusCreated, models.LoginResponse{Token: token, User: user})
}

func (h *AuthHandler) attachDriver(r *http.Request, user *models.User, carrier *models.Carrier, license string) error {
	role := models.DriverRoleDriver
	if user.Role == models.RoleManager {
		role = models.DriverRoleManager
	}
	driver, err := h.drivers.InsertDriver(r.Context(), models.Driver{
		UserID:        &user.ID,
		Username:      user.Username,
		FullName:      user.FullName(),
		Email:         user.Email,
		LicenseNumber: strings.TrimSpace(license),
		Role:          role,
		CarrierID:     carrier.ID,
	})
	if err != nil {
		return err
	}
	user.DriverID = &driver.ID
	if err := h.users.UpdateUser(r.Context(), *user); err != nil {
		if derr := h.drivers.DeleteDriver(r.Context(), driver.ID.Hex()); derr != nil {
			h.logger.WithError(derr).WithField("driver_id", driver.ID.Hex()).Error("Failed to remove driver record")
		}
		user.DriverID = nil
		return err
	}
	return nil
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	user, err := h.users.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeStoreError(w, err, "User", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
