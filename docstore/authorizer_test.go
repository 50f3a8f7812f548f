package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnerAuthorizer(t *testing.T) {
	ctx := context.Background()
	authz := OwnerAuthorizer{}

	tests := []struct {
		name     string
		caller   Caller
		old      Document
		proposed Document
		want     bool
	}{
		{name: "anonymous", caller: Caller{}, proposed: Document{"owner": ""}, want: false},
		{name: "create_own", caller: Caller{UserID: "u1"}, proposed: Document{"owner": "u1"}, want: true},
		{name: "create_for_other", caller: Caller{UserID: "u1"}, proposed: Document{"owner": "u2"}, want: false},
		{name: "create_unowned", caller: Caller{UserID: "u1"}, proposed: Document{"x": 1}, want: false},
		{name: "update_own", caller: Caller{UserID: "u1"}, old: Document{"owner": "u1"}, proposed: Document{"owner": "u1"}, want: true},
		{name: "steal", caller: Caller{UserID: "u1"}, old: Document{"owner": "u2"}, proposed: Document{"owner": "u1"}, want: false},
		{name: "give_away", caller: Caller{UserID: "u1"}, old: Document{"owner": "u1"}, proposed: Document{"owner": "u2"}, want: false},
		{name: "admin", caller: Caller{UserID: "root", Roles: []string{AdminRole}}, old: Document{"owner": "u2"}, proposed: Document{"owner": "u2"}, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, authz.Validate(ctx, tc.caller, tc.old, tc.proposed))
		})
	}
}

func TestOwnerAuthorizerCustomField(t *testing.T) {
	authz := OwnerAuthorizer{Field: "author"}
	assert.True(t, authz.Validate(context.Background(), Caller{UserID: "u1"}, nil, Document{"author": "u1"}))
	assert.False(t, authz.Validate(context.Background(), Caller{UserID: "u1"}, nil, Document{"owner": "u1"}))
}

func TestAuthorizerFuncNil(t *testing.T) {
	var f AuthorizerFunc
	assert.False(t, f.Validate(context.Background(), Caller{}, nil, Document{}))
}
