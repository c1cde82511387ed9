package common

// AccessTokenHeaderName is the gRPC metadata key carrying the session token
// on inbound requests.
const AccessTokenHeaderName = "access_token"

// PrincipalIDHeaderName is set on outgoing response metadata once a session
// has been verified.
const PrincipalIDHeaderName = "principal_id"
