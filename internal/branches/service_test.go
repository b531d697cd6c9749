package branches

import (
	"context"
	"testing"

	"branch-ops/internal/access"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

func TestCodePattern(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"HN", true},
		{"HCM01", true},
		{"ABCDEFGH", true},
		{"ABCDEFGHI", false},
		{"hn", false},
		{"H-N", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := codePattern.MatchString(tt.code); got != tt.want {
			t.Errorf("codePattern(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCreateRejectsBeforeWriting(t *testing.T) {
	s := NewService(nil)
	admin := access.NewActor(uuid.New(), "admin", access.RoleAdmin, true, nil, nil)
	teacher := access.NewActor(uuid.New(), "teacher", access.RoleTeacher, false, nil, nil)

	tests := []struct {
		name  string
		actor access.Actor
		in    NewBranch
		want  models.Kind
	}{
		{"teacher", teacher, NewBranch{Code: "HN", Name: "Ha Noi"}, models.KindPermissionDenied},
		{"bad code", admin, NewBranch{Code: "ha-noi", Name: "Ha Noi"}, models.KindValidation},
		{"blank code", admin, NewBranch{Code: "  ", Name: "Ha Noi"}, models.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.actor, tt.in)
			if got := models.KindOf(err); got != tt.want {
				t.Errorf("Create() error = %v, want kind %s", err, tt.want)
			}
		})
	}
}
