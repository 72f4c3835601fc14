package setup

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

func TestParseObjectLiteral(t *testing.T) {
	text := `
// from the console
const firebaseConfig = {
  apiKey: "AIzaSy-example",
  authDomain: 'demo.example.com', /* optional */
  projectId: "demo-project",
  'storageBucket': "demo.appspot.com",
  messagingSenderId: 1234567890,
  appId: "1:123:web:abc",
};`
	creds, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := domain.Credentials{
		APIKey:            "AIzaSy-example",
		AuthDomain:        "demo.example.com",
		ProjectID:         "demo-project",
		StorageBucket:     "demo.appspot.com",
		MessagingSenderID: "1234567890",
		AppID:             "1:123:web:abc",
	}
	if creds != want {
		t.Fatalf("expected %+v, got %+v", want, creds)
	}
}

func TestParseKeepsCommentMarkersInsideStrings(t *testing.T) {
	creds, err := Parse(`{apiKey:"k//not-a-comment", projectId:"p", databaseURL:"redis://db.example:6379"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if creds.APIKey != "k//not-a-comment" || creds.DatabaseURL != "redis://db.example:6379" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestParseStrictJSON(t *testing.T) {
	creds, err := Parse(`{"apiKey": "k", "projectId": "p", "databaseURL": "redis://localhost:6379"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if creds.APIKey != "k" || creds.ProjectID != "p" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "hello world", "alert(1)", "[1,2,3]", "{"} {
		if _, err := Parse(text); !errors.Is(err, ErrFormat) {
			t.Fatalf("expected ErrFormat for %q, got %v", text, err)
		}
	}
}

func TestValidateReportsMissingFields(t *testing.T) {
	err := Validate(domain.Credentials{AuthDomain: "x"})
	var missing *MissingFieldsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldsError, got %v", err)
	}
	if !reflect.DeepEqual(missing.Fields, []string{"apiKey", "projectId"}) {
		t.Fatalf("unexpected fields %v", missing.Fields)
	}
	err = Validate(domain.Credentials{APIKey: "k"})
	if !errors.As(err, &missing) || !reflect.DeepEqual(missing.Fields, []string{"projectId"}) {
		t.Fatalf("expected only projectId missing, got %v", err)
	}
	if err := Validate(domain.Credentials{APIKey: "k", ProjectID: "p"}); err != nil {
		t.Fatalf("expected valid credentials, got %v", err)
	}
}

func TestDeriveDatabaseURL(t *testing.T) {
	if got := DeriveDatabaseURL("demo"); got != "redis://demo-default-rtdb:6379" {
		t.Fatalf("unexpected url %q", got)
	}
}

type recordingApplier struct {
	applied []domain.Credentials
}

func (r *recordingApplier) ApplyCredentials(_ context.Context, creds domain.Credentials) error {
	r.applied = append(r.applied, creds)
	return nil
}

func TestFlowDeclinedDerivedURLPersistsNothing(t *testing.T) {
	db, err := store.OpenDatabase(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	credStore := store.NewLocalCredentialStore(db)
	probed := false
	flow := &Flow{
		Confirm: Decline,
		Probe: func(context.Context, domain.Credentials, time.Duration) error {
			probed = true
			return nil
		},
		Apply: applierFunc(func(ctx context.Context, creds domain.Credentials) error {
			return credStore.Save(ctx, creds)
		}),
	}
	_, err = flow.Run(context.Background(), `{apiKey: "k", projectId: "demo"}`)
	var declined *DerivedURLDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected DerivedURLDeclinedError, got %v", err)
	}
	if declined.Suggested != "redis://demo-default-rtdb:6379" {
		t.Fatalf("unexpected suggestion %q", declined.Suggested)
	}
	if probed {
		t.Fatalf("expected no probe after decline")
	}
	if _, ok, _ := credStore.Load(context.Background()); ok {
		t.Fatalf("expected nothing persisted")
	}
}

type applierFunc func(ctx context.Context, creds domain.Credentials) error

func (f applierFunc) ApplyCredentials(ctx context.Context, creds domain.Credentials) error {
	return f(ctx, creds)
}

func TestFlowAcceptedDerivedURLIsApplied(t *testing.T) {
	applier := &recordingApplier{}
	var asked string
	flow := &Flow{
		Confirm: ConfirmFunc(func(_ context.Context, url string) (bool, error) {
			asked = url
			return true, nil
		}),
		Probe: func(context.Context, domain.Credentials, time.Duration) error { return nil },
		Apply: applier,
	}
	creds, err := flow.Run(context.Background(), `{apiKey: "k", projectId: "demo"}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if asked != "redis://demo-default-rtdb:6379" || creds.DatabaseURL != asked {
		t.Fatalf("expected derived url applied, asked=%q creds=%+v", asked, creds)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected one apply, got %d", len(applier.applied))
	}
}

func TestFlowProbeFailureDoesNotApply(t *testing.T) {
	applier := &recordingApplier{}
	flow := &Flow{
		Apply:   applier,
		Timeout: 300 * time.Millisecond,
	}
	start := time.Now()
	_, err := flow.Run(context.Background(), `{apiKey: "k", projectId: "p", databaseURL: "redis://127.0.0.1:1"}`)
	if !errors.Is(err, store.ErrProbeTimeout) {
		t.Fatalf("expected probe timeout, got %v", err)
	}
	var connect *ConnectError
	if !errors.As(err, &connect) {
		t.Fatalf("expected ConnectError, got %T", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("probe took too long")
	}
	if len(applier.applied) != 0 {
		t.Fatalf("expected nothing applied")
	}
	if msg := UserMessage(err); msg == "" || msg == err.Error() {
		t.Fatalf("expected a readable message, got %q", msg)
	}
}

func TestFlowAgainstLiveBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	applier := &recordingApplier{}
	flow := &Flow{Apply: applier, Timeout: time.Second}
	text := `{apiKey: "k", projectId: "p", databaseURL: "redis://` + mr.Addr() + `"}`
	if _, err := flow.Run(context.Background(), text); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected credentials applied")
	}
}

func TestFlowMissingFields(t *testing.T) {
	flow := &Flow{}
	_, err := flow.Run(context.Background(), `{authDomain: "x"}`)
	var missing *MissingFieldsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldsError, got %v", err)
	}
	if UserMessage(err) != "missing required fields: apiKey, projectId" {
		t.Fatalf("unexpected message %q", UserMessage(err))
	}
}
