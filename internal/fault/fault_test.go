package fault

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, KindValidation, KindOf(Validation("quantity", "must be non-zero")))
	require.Equal(t, KindReferenceNotFound, KindOf(ReferenceNotFound("product_id", "no such product")))
	require.Equal(t, KindReferentialIntegrity, KindOf(ReferentialIntegrity("currency", "still referenced")))
	require.Equal(t, KindNotFound, KindOf(NotFound("deal")))
	require.Equal(t, KindAuthorization, KindOf(Authorization("admin required")))
	require.Equal(t, KindConflict, KindOf(Conflict("version changed")))
}

func TestKindOfNonContractError(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("plain error")))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := errors.Wrap(Conflict("deal changed"), "update failed")
	require.True(t, IsKind(err, KindConflict))
	require.False(t, IsKind(err, KindValidation))
}

func TestErrorStringIncludesField(t *testing.T) {
	err := Validation("fixed_price", "must not be negative, got %v", -1.5)
	require.Equal(t, "validation: fixed_price: must not be negative, got -1.5", err.Error())

	// No field, no field segment
	require.Equal(t, "not_found: deal not found", NotFound("deal").Error())
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("constraint fk_deal_event_product violated")
	err := ReferenceNotFound("product_id", "product does not exist").WithCause(cause)

	require.True(t, IsKind(err, KindReferenceNotFound))
	require.ErrorIs(t, err, cause)
}
