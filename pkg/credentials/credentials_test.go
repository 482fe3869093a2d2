package credentials

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr error
	}{
		{name: "secret only", creds: FromClientSecret("s3cret", "user:read:email")},
		{name: "token only", creds: FromToken("tok")},
		{name: "secret and token", creds: FromClientSecretAndToken("s3cret", "tok")},
		{name: "blank secret", creds: FromClientSecret("  "), wantErr: ErrEmptySecret},
		{name: "blank token", creds: FromToken(""), wantErr: ErrEmptyToken},
		{name: "both with blank token", creds: FromClientSecretAndToken("s3cret", ""), wantErr: ErrEmptyToken},
		{name: "nil", creds: nil, wantErr: ErrNoCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.creds)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_SetToken(t *testing.T) {
	tests := []struct {
		name  string
		start Credentials
		want  Credentials
	}{
		{
			name:  "secret only upgrades",
			start: FromClientSecret("s3cret", "a", "b"),
			want:  SecretAndToken{ClientSecret: "s3cret", Scopes: []string{"a", "b"}, Token: "new"},
		},
		{
			name:  "secret and token replaces token",
			start: FromClientSecretAndToken("s3cret", "old", "a"),
			want:  SecretAndToken{ClientSecret: "s3cret", Scopes: []string{"a"}, Token: "new"},
		},
		{
			name:  "token only stays token only",
			start: FromToken("old"),
			want:  TokenOnly{Token: "new"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(tt.start)
			store.SetToken("new")

			got := store.Load()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Load() = %#v, want %#v", got, tt.want)
			}

			token, ok := store.CachedToken()
			if !ok || token != "new" {
				t.Errorf("CachedToken() = (%q, %v), want (\"new\", true)", token, ok)
			}
		})
	}
}

func TestStore_CachedTokenAndCanMint(t *testing.T) {
	tests := []struct {
		name      string
		creds     Credentials
		wantToken string
		wantOK    bool
		wantMint  bool
	}{
		{name: "secret only", creds: FromClientSecret("s"), wantOK: false, wantMint: true},
		{name: "token only", creds: FromToken("t"), wantToken: "t", wantOK: true, wantMint: false},
		{name: "both", creds: FromClientSecretAndToken("s", "t"), wantToken: "t", wantOK: true, wantMint: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(tt.creds)
			token, ok := store.CachedToken()
			if token != tt.wantToken || ok != tt.wantOK {
				t.Errorf("CachedToken() = (%q, %v), want (%q, %v)", token, ok, tt.wantToken, tt.wantOK)
			}
			if got := store.CanMint(); got != tt.wantMint {
				t.Errorf("CanMint() = %v, want %v", got, tt.wantMint)
			}
		})
	}
}

func TestFromClientSecret_CopiesScopes(t *testing.T) {
	scopes := []string{"a", "b"}
	creds := FromClientSecret("s", scopes...).(SecretOnly)
	scopes[0] = "mutated"

	if creds.Scopes[0] != "a" {
		t.Errorf("Scopes[0] = %q, want %q", creds.Scopes[0], "a")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(FromClientSecret("s3cret"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.SetToken("tok")
		}()
		go func() {
			defer wg.Done()
			switch c := store.Load().(type) {
			case SecretOnly:
				if c.ClientSecret != "s3cret" {
					t.Errorf("secret lost: %#v", c)
				}
			case SecretAndToken:
				if c.ClientSecret != "s3cret" || c.Token != "tok" {
					t.Errorf("partial update observed: %#v", c)
				}
			default:
				t.Errorf("unexpected variant %T", c)
			}
		}()
	}
	wg.Wait()

	if _, ok := store.Load().(SecretAndToken); !ok {
		t.Errorf("final variant = %T, want SecretAndToken", store.Load())
	}
}
