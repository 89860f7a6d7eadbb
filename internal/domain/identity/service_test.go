package identity

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/platform/auth"
)

// -- Mock User Repository --

type mockUserRepo struct {
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
		if existing.UIN == u.UIN {
			return ErrUINTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUserRepo) GetByUIN(_ context.Context, uin string) (*User, error) {
	for _, u := range m.users {
		if u.UIN == uin {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, u *User) error {
	existing, ok := m.users[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	for id, other := range m.users {
		if id != u.ID && other.Email == u.Email {
			return ErrEmailTaken
		}
	}
	existing.FirstName, existing.LastName, existing.Email = u.FirstName, u.LastName, u.Email
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *mockUserRepo) SetAssignedDoctor(_ context.Context, patientID uuid.UUID, doctorID *uuid.UUID) error {
	p, ok := m.users[patientID]
	if !ok || p.Role != auth.RolePatient {
		return ErrUserNotFound
	}
	if doctorID == nil {
		p.AssignedDoctorID = nil
		return nil
	}
	id := *doctorID
	p.AssignedDoctorID = &id
	return nil
}

func (m *mockUserRepo) SetDoctorApproved(_ context.Context, doctorID uuid.UUID, approved bool) error {
	d, ok := m.users[doctorID]
	if !ok || d.Role != auth.RoleDoctor {
		return ErrUserNotFound
	}
	d.DoctorApproved = approved
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	var all []*User
	for _, u := range m.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Approved != nil && u.DoctorApproved != *f.Approved {
			continue
		}
		if f.AssignedDoctorID != nil && (u.AssignedDoctorID == nil || *u.AssignedDoctorID != *f.AssignedDoctorID) {
			continue
		}
		if f.Unassigned && u.AssignedDoctorID != nil {
			continue
		}
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastName < all[j].LastName })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// -- Helpers --

func newTestService() *Service {
	return newTestServiceWithRepo(newMockUserRepo())
}

func newTestServiceWithRepo(repo Repository) *Service {
	issuer := auth.NewTokenIssuer([]byte("test-secret-key-at-least-32-bytes!"), "cardiocare", time.Hour)
	return NewService(repo, issuer, auth.NewMemoryRevocationStore(time.Minute), zerolog.Nop())
}

func registerUser(t *testing.T, svc *Service, email, role string) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  "correct-horse",
		FirstName: "Test",
		LastName:  role,
		Role:      role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

// -- Registration --

func TestRegister(t *testing.T) {
	svc := newTestService()
	u, err := svc.Register(context.Background(), RegisterInput{
		Email:     "  Ada@Example.com ",
		Password:  "correct-horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Role:      auth.RolePatient,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if u.Email != "ada@example.com" {
		t.Errorf("expected normalized email, got %s", u.Email)
	}
	if !validUIN(u.UIN) {
		t.Errorf("expected a 12-digit uin, got %q", u.UIN)
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct-horse" {
		t.Error("expected password to be hashed")
	}
}

func TestRegister_DoctorStartsUnapproved(t *testing.T) {
	svc := newTestService()
	u := registerUser(t, svc, "doc@example.com", auth.RoleDoctor)
	if u.DoctorApproved {
		t.Error("expected new doctor to be unapproved")
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"admin role", RegisterInput{Email: "a@b.co", Password: "12345678", FirstName: "A", LastName: "B", Role: auth.RoleAdmin}},
		{"unknown role", RegisterInput{Email: "a@b.co", Password: "12345678", FirstName: "A", LastName: "B", Role: "nurse"}},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "12345678", FirstName: "A", LastName: "B", Role: auth.RolePatient}},
		{"short password", RegisterInput{Email: "a@b.co", Password: "short", FirstName: "A", LastName: "B", Role: auth.RolePatient}},
		{"missing name", RegisterInput{Email: "a@b.co", Password: "12345678", FirstName: " ", LastName: "B", Role: auth.RolePatient}},
		{"bad uin", RegisterInput{Email: "a@b.co", Password: "12345678", FirstName: "A", LastName: "B", Role: auth.RolePatient, UIN: "12ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestService().Register(context.Background(), tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestService()
	registerUser(t, svc, "dup@example.com", auth.RolePatient)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "dup@example.com", Password: "correct-horse", FirstName: "B", LastName: "C", Role: auth.RoleDoctor,
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegister_RetriesUINCollision(t *testing.T) {
	svc := newTestService()
	first := registerUser(t, svc, "first@example.com", auth.RolePatient)

	uins := []string{first.UIN, "555555555555"}
	svc.newUIN = func() (string, error) {
		next := uins[0]
		uins = uins[1:]
		return next, nil
	}

	u := registerUser(t, svc, "second@example.com", auth.RolePatient)
	if u.UIN != "555555555555" {
		t.Errorf("expected retried uin, got %s", u.UIN)
	}
}

func TestRegister_SuppliedUINTaken(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "a@example.com", Password: "correct-horse", FirstName: "A", LastName: "B", Role: auth.RolePatient, UIN: "123456789012",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = svc.Register(context.Background(), RegisterInput{
		Email: "b@example.com", Password: "correct-horse", FirstName: "A", LastName: "B", Role: auth.RolePatient, UIN: "123456789012",
	})
	if !errors.Is(err, ErrUINTaken) {
		t.Fatalf("expected ErrUINTaken, got %v", err)
	}
}

func TestGenerateUIN(t *testing.T) {
	for i := 0; i < 50; i++ {
		uin, err := generateUIN()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !validUIN(uin) || uin[0] == '0' {
			t.Fatalf("invalid uin %q", uin)
		}
	}
}

func TestCreateAdmin(t *testing.T) {
	svc := newTestService()
	u, err := svc.CreateAdmin(context.Background(), RegisterInput{
		Email: "root@example.com", Password: "correct-horse", FirstName: "Root", LastName: "Admin", Role: auth.RolePatient,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.IsAdmin() {
		t.Errorf("expected admin role, got %s", u.Role)
	}
}

// -- Login / Logout --

func TestLogin(t *testing.T) {
	svc := newTestService()
	u := registerUser(t, svc, "login@example.com", auth.RoleDoctor)

	res, err := svc.Login(context.Background(), "LOGIN@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := svc.tokens.Parse(res.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Subject != u.ID.String() {
		t.Errorf("expected subject %s, got %s", u.ID, claims.Subject)
	}
	if claims.Role != auth.RoleDoctor || claims.UIN != u.UIN {
		t.Errorf("unexpected claims: role=%s uin=%s", claims.Role, claims.UIN)
	}
	if claims.ID == "" {
		t.Error("expected jti")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService()
	registerUser(t, svc, "login@example.com", auth.RolePatient)

	if _, err := svc.Login(context.Background(), "login@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	svc := newTestService()
	registerUser(t, svc, "out@example.com", auth.RolePatient)

	res, err := svc.Login(context.Background(), "out@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, _ := svc.tokens.Parse(res.Token)

	if err := svc.Logout(context.Background(), claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	revoked, err := svc.revoked.IsRevoked(context.Background(), claims.ID)
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("expected token to be revoked after logout")
	}
}

// -- Profile --

func TestUpdateProfile(t *testing.T) {
	svc := newTestService()
	u := registerUser(t, svc, "p@example.com", auth.RolePatient)

	first, email := "Grace", "Grace@Example.com"
	updated, err := svc.UpdateProfile(context.Background(), u.ID, ProfileInput{FirstName: &first, Email: &email})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.FirstName != "Grace" || updated.Email != "grace@example.com" {
		t.Errorf("unexpected profile: %+v", updated)
	}
	if updated.Role != auth.RolePatient {
		t.Errorf("expected role to be unchanged, got %s", updated.Role)
	}
}

func TestUpdateProfile_EmptyName(t *testing.T) {
	svc := newTestService()
	u := registerUser(t, svc, "p@example.com", auth.RolePatient)

	empty := ""
	if _, err := svc.UpdateProfile(context.Background(), u.ID, ProfileInput{LastName: &empty}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// -- Assignment --

func TestSetAssignedDoctor(t *testing.T) {
	svc := newTestService()
	patient := registerUser(t, svc, "pat@example.com", auth.RolePatient)
	doctor := registerUser(t, svc, "doc@example.com", auth.RoleDoctor)

	if err := svc.SetAssignedDoctor(context.Background(), patient.ID, &doctor.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.AssignedDoctor(context.Background(), patient.ID)
	if err != nil {
		t.Fatalf("AssignedDoctor: %v", err)
	}
	if got.ID != doctor.ID {
		t.Errorf("expected doctor %s, got %s", doctor.ID, got.ID)
	}

	if err := svc.SetAssignedDoctor(context.Background(), patient.ID, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := svc.AssignedDoctor(context.Background(), patient.ID); !errors.Is(err, ErrNoAssignedDoctor) {
		t.Errorf("expected ErrNoAssignedDoctor, got %v", err)
	}
}

func TestSetAssignedDoctor_RejectsNonDoctor(t *testing.T) {
	svc := newTestService()
	patient := registerUser(t, svc, "pat@example.com", auth.RolePatient)
	other := registerUser(t, svc, "other@example.com", auth.RolePatient)

	if err := svc.SetAssignedDoctor(context.Background(), patient.ID, &other.ID); !errors.Is(err, ErrNotDoctor) {
		t.Errorf("expected ErrNotDoctor, got %v", err)
	}
}

func TestAssignedDoctor_NotPatient(t *testing.T) {
	svc := newTestService()
	doctor := registerUser(t, svc, "doc@example.com", auth.RoleDoctor)
	if _, err := svc.AssignedDoctor(context.Background(), doctor.ID); !errors.Is(err, ErrNotPatient) {
		t.Errorf("expected ErrNotPatient, got %v", err)
	}
}

func TestFindByUIN(t *testing.T) {
	svc := newTestService()
	patient := registerUser(t, svc, "pat@example.com", auth.RolePatient)

	got, err := svc.FindByUIN(context.Background(), patient.UIN)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != patient.ID {
		t.Errorf("expected %s, got %s", patient.ID, got.ID)
	}

	for _, uin := range []string{"", "12345", "12345678901a", "999999999999"} {
		if _, err := svc.FindByUIN(context.Background(), uin); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("uin %q: expected ErrUserNotFound, got %v", uin, err)
		}
	}
}

// -- Browsing --

func TestBrowsing(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestServiceWithRepo(repo)
	ctx := context.Background()

	approved := registerUser(t, svc, "approved@example.com", auth.RoleDoctor)
	registerUser(t, svc, "pending@example.com", auth.RoleDoctor)
	if err := repo.SetDoctorApproved(ctx, approved.ID, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	assigned := registerUser(t, svc, "assigned@example.com", auth.RolePatient)
	registerUser(t, svc, "free@example.com", auth.RolePatient)
	if err := svc.SetAssignedDoctor(ctx, assigned.ID, &approved.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	doctors, total, err := svc.ApprovedDoctors(ctx, 20, 0)
	if err != nil {
		t.Fatalf("ApprovedDoctors: %v", err)
	}
	if total != 1 || doctors[0].ID != approved.ID {
		t.Errorf("expected only the approved doctor, got %d", total)
	}

	patients, total, err := svc.Patients(ctx, approved.ID, 20, 0)
	if err != nil {
		t.Fatalf("Patients: %v", err)
	}
	if total != 1 || patients[0].ID != assigned.ID {
		t.Errorf("expected only the assigned patient, got %d", total)
	}

	free, total, err := svc.UnassignedPatients(ctx, 20, 0)
	if err != nil {
		t.Fatalf("UnassignedPatients: %v", err)
	}
	if total != 1 || free[0].Email != "free@example.com" {
		t.Errorf("expected only the unassigned patient, got %d", total)
	}
}
