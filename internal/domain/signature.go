package domain

// SignatureState is derived from the two signer timestamps and is fully
// independent of the mandate's lifecycle status.
type SignatureState string

const (
	SignatureUnsigned     SignatureState = "unsigned"
	SignatureOwnerSigned  SignatureState = "owner_signed"
	SignatureAgencySigned SignatureState = "agency_signed"
	SignatureCompleted    SignatureState = "completed"
)

// SignatureStateOf derives the completion state from the two timestamps.
// Several screens used to re-derive this ad hoc; this is the single source.
func SignatureStateOf(ownerSignedAt, agencySignedAt *string) SignatureState {
	switch {
	case ownerSignedAt != nil && agencySignedAt != nil:
		return SignatureCompleted
	case ownerSignedAt != nil:
		return SignatureOwnerSigned
	case agencySignedAt != nil:
		return SignatureAgencySigned
	}
	return SignatureUnsigned
}

// SignatureState derives the mandate's current signature completion state.
func (m Mandate) SignatureState() SignatureState {
	return SignatureStateOf(m.OwnerSignedAt, m.AgencySignedAt)
}
