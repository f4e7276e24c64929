package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bookie/pkg/domain"
	"bookie/services/api/internal/app"
)

type signupRequest struct {
	Username string `json:"username" validate:"required,max=30"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type updateMeRequest struct {
	AboutText          *string   `json:"about_text"`
	FavoriteGenres     *[]string `json:"favorite_genres"`
	CurrentReadingISBN *string   `json:"current_reading_isbn"`
	ImageAvatar        *string   `json:"image_avatar" validate:"omitempty,url"`
}

type authResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refresh_token"`
	User         domain.User `json:"user"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "demasiados intentos de registro") {
		s.audit(r, "api.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "api.signup", "fail", "reason", "invalid_request")
		return
	}
	user, accessToken, refreshToken, err := s.app.SignUp(req.Username, req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.signup", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: accessToken, RefreshToken: refreshToken, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "demasiados intentos de inicio de sesión") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "api.login", "fail", "reason", "invalid_request")
		return
	}
	user, accessToken, refreshToken, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: accessToken, RefreshToken: refreshToken, User: user})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.refreshLimiter, "demasiados intentos de renovación") {
		s.audit(r, "api.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "api.refresh", "fail", "reason", "invalid_request")
		return
	}
	user, accessToken, refreshToken, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		s.audit(r, "api.refresh", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.refresh", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: accessToken, RefreshToken: refreshToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.refreshLimiter, "demasiados intentos de cierre de sesión") {
		s.audit(r, "api.logout", "rate_limited")
		return
	}
	var req logoutRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cuerpo JSON inválido")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.audit(r, "api.logout", "fail", "reason", "invalid_json")
			writeError(w, http.StatusBadRequest, "cuerpo JSON inválido")
			return
		}
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "no autorizado")
		return
	}
	if err := s.app.Logout(token, req.RefreshToken); err != nil {
		s.audit(r, "api.logout", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req updateMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.UpdateProfile(user, app.ProfileUpdate{
		AboutText:          req.AboutText,
		FavoriteGenres:     req.FavoriteGenres,
		CurrentReadingISBN: req.CurrentReadingISBN,
		ImageAvatar:        req.ImageAvatar,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeactivateMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeactivateUser(user.ID); err != nil {
		s.audit(r, "api.account.deactivate", "fail", "user_id", user.ID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.account.deactivate", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.passwordLimiter, "demasiados intentos de cambio de contraseña") {
		s.audit(r, "api.password.change", "rate_limited", "user_id", user.ID)
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.ChangePassword(user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, "api.password.change", "fail", "user_id", user.ID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.password.change", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAvatarBytes+(1<<10))
	if err := r.ParseMultipartForm(s.maxAvatarBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "la imagen es demasiado grande")
			return
		}
		writeError(w, http.StatusBadRequest, "formulario multipart inválido")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "falta el archivo 'avatar'")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "no se pudo leer la imagen")
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	updated, err := s.app.UploadAvatar(r.Context(), user, contentType, io.MultiReader(bytes.NewReader(head), file), header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": updated.ImageAvatar})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.ListUsers()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
