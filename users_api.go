package tokenauth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (a *API) userRoutes(r *mux.Router) {
	authz := a.Authorizer
	r.Handle("", authz.Authorize(Roles(RoleAdmin))(http.HandlerFunc(a.handleListUsers))).Methods(http.MethodGet)
	r.Handle("/profile", authz.Authorize(AnyRole())(http.HandlerFunc(a.handleProfile))).Methods(http.MethodGet)
	r.Handle("/{userId}", authz.Authorize(LoggedUser)(http.HandlerFunc(a.handleGetUser))).Methods(http.MethodGet)
	r.Handle("/{userId}", authz.Authorize(LoggedUser)(http.HandlerFunc(a.handleUpdateUser))).Methods(http.MethodPatch)
}

// ListUsersResponse is the body of GET /users
type ListUsersResponse struct {
	Users   []PublicUser `json:"users"`
	Page    int          `json:"page"`
	PerPage int          `json:"perPage"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ListOptions{
		Name:  q.Get("name"),
		Email: q.Get("email"),
		Role:  Role(q.Get("role")),
	}
	var err error
	if v := q.Get("page"); v != "" {
		if opts.Page, err = strconv.Atoi(v); err != nil || opts.Page < 1 {
			writeError(w, ValidationError("page", "page must be a positive integer"))
			return
		}
	}
	if v := q.Get("perPage"); v != "" {
		if opts.PerPage, err = strconv.Atoi(v); err != nil || opts.PerPage < 1 || opts.PerPage > 100 {
			writeError(w, ValidationError("perPage", "perPage must be between 1 and 100"))
			return
		}
	}
	if opts.Role != "" && !opts.Role.Valid() {
		writeError(w, ValidationError("role", "unknown role"))
		return
	}
	opts = opts.Normalized()

	ctx, cancel := a.withTimeout(r)
	defer cancel()
	users, err := a.Auth.Credentials.List(ctx, opts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := ListUsersResponse{Users: make([]PublicUser, 0, len(users)), Page: opts.Page, PerPage: opts.PerPage}
	for _, u := range users {
		resp.Users = append(resp.Users, u.Transform())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UserFromContext(r.Context()).Transform())
}

// loadTarget returns the user named by the route, reusing the caller when it
// is their own resource
func (a *API) loadTarget(r *http.Request) (*User, error) {
	caller := UserFromContext(r.Context())
	id := a.Authorizer.TargetUserID(r)
	if caller != nil && caller.ID == id {
		return caller, nil
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	u, err := a.Auth.Credentials.FindByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound.Wrap(errors.New("failed to find user"))
	}
	return u, err
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.loadTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Transform())
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd UserUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	target, err := a.loadTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	u, err := a.Auth.Credentials.Update(ctx, UserFromContext(r.Context()), target, upd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Transform())
}
