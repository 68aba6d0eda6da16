// ABOUTME: Shared fakes for auth tests
// ABOUTME: fakeVerifier records calls so tests can assert guard ordering

package auth

import (
	"context"
	"sync"
)

type fakeVerifier struct {
	mu sync.Mutex

	attestErr   error
	principal   *Principal
	identityErr error
	panicOn     string

	attestCalls   int
	identityCalls int
	lastAttest    string
	lastIdentity  string
}

func (f *fakeVerifier) VerifyAttestation(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attestCalls++
	f.lastAttest = token
	if f.panicOn == "attestation" {
		panic("verifier unavailable")
	}
	return f.attestErr
}

func (f *fakeVerifier) VerifyIdentity(_ context.Context, token string) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityCalls++
	f.lastIdentity = token
	if f.panicOn == "identity" {
		panic("verifier unavailable")
	}
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return f.principal, nil
}

type recordedRejection struct {
	guard  string
	reason string
}

type fakeRecorder struct {
	mu         sync.Mutex
	rejections []recordedRejection
}

func (r *fakeRecorder) RecordRejection(guard, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, recordedRejection{guard: guard, reason: reason})
}
