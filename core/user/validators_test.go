package user

import (
	"bytes"
	"compress/gzip"
	"testing"
	"testing/fstest"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrXof/ElectiveFlow/core"
)

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLoadCommonPasswords(t *testing.T) {
	fsys := fstest.MapFS{"pwds.txt.gz": {Data: gzipped(t, "Password1!\nqwerty\n\n  letMeIn#1 \n")}}
	require.NoError(t, LoadCommonPasswords(fsys, "pwds.txt.gz"))
	t.Cleanup(func() { commonPasswords = nil })

	assert.Equal(t, []string{"letmein#1", "password1!", "qwerty"}, commonPasswords)
	assert.Error(t, LoadCommonPasswords(fsys, "missing.gz"))
}

func TestNewUserPasswordPolicy(t *testing.T) {
	validate := newValidator(t)
	commonPasswords = []string{"password1!"}
	t.Cleanup(func() { commonPasswords = nil })

	tests := []struct {
		name    string
		pwd     string
		wantTag string
	}{
		{name: "too short", pwd: "Ab1!", wantTag: pwdMinLenTag},
		{name: "whitespace", pwd: "Abcd 123!", wantTag: pwdNoSpaceTag},
		{name: "numeric", pwd: "1234567890", wantTag: pwdNotAllNumTag},
		{name: "no special", pwd: "Abcdefg123", wantTag: pwdComplexityTag},
		{name: "no upper", pwd: "abcdefg12#", wantTag: pwdComplexityTag},
		{name: "similar to email", pwd: "Ada.Lovelace1@uni.edu", wantTag: pwdAttrSimTag},
		{name: "common", pwd: "Password1!", wantTag: pwdNoCommonTag},
		{name: "valid", pwd: "Qm7#vTz!pL2x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := NewUser{
				Name:            "Ada",
				Email:           "ada.lovelace@uni.edu",
				Password:        tt.pwd,
				PasswordConfirm: tt.pwd,
				Roles:           []string{RoleStudent},
				Interests:       []string{"AI", "Data Science"},
			}
			err := validate.Struct(nu)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			var vErrs validator.ValidationErrors
			require.ErrorAs(t, err, &vErrs)
			require.Len(t, vErrs, 1)
			assert.Equal(t, "password", vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}

func TestNewUserFields(t *testing.T) {
	validate := newValidator(t)
	pwd := "Qm7#vTz!pL2x"

	tests := []struct {
		name      string
		nu        NewUser
		wantField string
		wantTag   string
	}{
		{
			name:      "unknown role",
			nu:        NewUser{Name: "A", Email: "a@uni.edu", Password: pwd, PasswordConfirm: pwd, Roles: []string{"janitor:"}},
			wantField: "roles",
			wantTag:   allRolesTag,
		},
		{
			name:      "bad interest",
			nu:        NewUser{Name: "A", Email: "a@uni.edu", Password: pwd, PasswordConfirm: pwd, Interests: []string{"<script>"}},
			wantField: "interests[0]",
			wantTag:   "tag",
		},
		{
			name:      "password mismatch",
			nu:        NewUser{Name: "A", Email: "a@uni.edu", Password: pwd, PasswordConfirm: pwd + "x"},
			wantField: "password_confirm",
			wantTag:   "eqfield",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vErrs validator.ValidationErrors
			require.ErrorAs(t, validate.Struct(tt.nu), &vErrs)
			require.Len(t, vErrs, 1)
			assert.Equal(t, tt.wantField, vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}
