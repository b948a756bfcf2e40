package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"recordsync/internal/server/config"
	"recordsync/internal/shared/models"
	"recordsync/internal/shared/passhash"
)

// ErrValidation marks a write the server refuses on its content. It is
// answered with a "fail" status rather than an HTTP error.
var ErrValidation = errors.New("validation failed")

type Repository interface {
	CreateUser(ctx context.Context, email string, passwordHash []byte) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (id string, passwordHash []byte, err error)

	CreateObject(ctx context.Context, obj models.Object) (models.Object, error)
	UpdateObject(ctx context.Context, ownerID, model, pk string, fields map[string]any) (models.Object, error)
	ListObjects(ctx context.Context, ownerID, model string) ([]models.Object, error)
	GetObject(ctx context.Context, ownerID, model, pk string) (models.Object, error)
	DeleteObject(ctx context.Context, ownerID, model, pk string) error
}

type Services struct {
	Auth    *AuthService
	Objects *ObjectsService
}

func NewServices(repo Repository, cfg config.Config) *Services {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Services{
		Auth:    &AuthService{repo: repo, jwtSecret: []byte(cfg.JWTSecret), ttl: ttl},
		Objects: &ObjectsService{repo: repo},
	}
}

// Session is what an access token proves: who is calling, and which CSRF
// token their unsafe requests must carry.
type Session struct {
	UserID string
	CSRF   string
}

// AuthService implements user registration, password verification and
// issuance of session tokens bound to a CSRF token.
type AuthService struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration
}

func (a *AuthService) Register(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, errors.New("email and password required")
	}
	phc, err := passhash.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	return a.repo.CreateUser(ctx, email, []byte(phc))
}

func (a *AuthService) Login(ctx context.Context, email, password string) (models.TokenResponse, error) {
	id, hash, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return models.TokenResponse{}, errors.New("invalid credentials")
	}
	ok, err := passhash.VerifyPassword(string(hash), password)
	if err != nil || !ok {
		return models.TokenResponse{}, errors.New("invalid credentials")
	}
	return a.IssueSession(id, a.ttl)
}

// IssueSession signs an access token carrying a fresh CSRF token.
func (a *AuthService) IssueSession(userID string, ttl time.Duration) (models.TokenResponse, error) {
	csrf := uuid.NewString()
	claims := jwt.MapClaims{
		"sub":  userID,
		"csrf": csrf,
		"exp":  time.Now().Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(a.jwtSecret)
	if err != nil {
		return models.TokenResponse{}, err
	}
	return models.TokenResponse{AccessToken: signed, CSRFToken: csrf}, nil
}

func (a *AuthService) ParseToken(_ context.Context, token string) (Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Session{}, errors.New("invalid token subject")
	}
	csrf, _ := claims["csrf"].(string)
	return Session{UserID: sub, CSRF: csrf}, nil
}

// ObjectsService stores schemaless records per owner and model, and
// speaks the envelope and save-request shapes of the REST API.
type ObjectsService struct {
	repo Repository
}

// List returns the owner's objects of model whose fields match every
// filter exactly.
func (s *ObjectsService) List(ctx context.Context, ownerID, model string, filter url.Values) ([]models.Envelope, error) {
	objs, err := s.repo.ListObjects(ctx, ownerID, model)
	if err != nil {
		return nil, err
	}
	out := make([]models.Envelope, 0, len(objs))
	for _, obj := range objs {
		if matches(obj, filter) {
			out = append(out, ToEnvelope(obj))
		}
	}
	return out, nil
}

func matches(obj models.Object, filter url.Values) bool {
	for key := range filter {
		want := filter.Get(key)
		if key == "pk" {
			if obj.PK != want {
				return false
			}
			continue
		}
		got, ok := obj.Fields[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func (s *ObjectsService) Get(ctx context.Context, ownerID, model, pk string) (models.Envelope, error) {
	obj, err := s.repo.GetObject(ctx, ownerID, model, pk)
	if err != nil {
		return models.Envelope{}, err
	}
	return ToEnvelope(obj), nil
}

// Create stores every item of req and returns the pk of the last one.
func (s *ObjectsService) Create(ctx context.Context, ownerID, model string, req models.SaveRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", fmt.Errorf("%w: no data", ErrValidation)
	}
	var pk string
	for _, item := range req.Data {
		fields, id := splitPK(item, req.PKField)
		obj, err := s.repo.CreateObject(ctx, models.Object{Model: model, PK: id, OwnerID: ownerID, Fields: fields})
		if err != nil {
			return "", err
		}
		pk = obj.PK
	}
	return pk, nil
}

// Update merges the single item of req into the object pk. Only the keys
// present in the item change.
func (s *ObjectsService) Update(ctx context.Context, ownerID, model, pk string, req models.SaveRequest) error {
	if len(req.Data) != 1 {
		return fmt.Errorf("%w: expected one item, got %d", ErrValidation, len(req.Data))
	}
	fields, id := splitPK(req.Data[0], req.PKField)
	if id != "" && id != pk {
		return fmt.Errorf("%w: %s %q does not match %q", ErrValidation, pkField(req.PKField), id, pk)
	}
	_, err := s.repo.UpdateObject(ctx, ownerID, model, pk, fields)
	return err
}

func (s *ObjectsService) Delete(ctx context.Context, ownerID, model, pk string) error {
	return s.repo.DeleteObject(ctx, ownerID, model, pk)
}

func pkField(name string) string {
	if name == "" {
		return "id"
	}
	return name
}

func splitPK(item map[string]any, field string) (map[string]any, string) {
	field = pkField(field)
	fields := make(map[string]any, len(item))
	var id string
	for k, v := range item {
		if k == field {
			if v != nil {
				id = fmt.Sprint(v)
			}
			continue
		}
		fields[k] = v
	}
	return fields, id
}

// ToEnvelope renders obj in the single-record shape. The display name is
// taken from a "name" or "title" field when one holds a string.
func ToEnvelope(obj models.Object) models.Envelope {
	env := models.Envelope{PK: obj.PK, Fields: obj.Fields}
	for _, key := range []string{"name", "title"} {
		if s, ok := obj.Fields[key].(string); ok && s != "" {
			env.Unicode = &s
			break
		}
	}
	return env
}
