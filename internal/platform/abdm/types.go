package abdm

// OTPRequest asks the gateway to dispatch an OTP. LoginValue carries the
// identifier the OTP is sent against (Aadhaar number, ABHA number, or
// mobile) and is encrypted before transmission.
type OTPRequest struct {
	TxnID      string   // empty on the first step of a flow
	Scope      []string // e.g. ["abha-enrol"], ["abha-login", "mobile-verify"]
	LoginHint  string   // "aadhaar", "abha-number", "mobile"
	LoginValue string   // encrypted on the wire
	OTPSystem  string   // "aadhaar" or "abdm"
}

// OTPResponse is the gateway's acknowledgement of an OTP dispatch.
type OTPResponse struct {
	TxnID   string `json:"txnId"`
	Message string `json:"message"`
}

// EnrollByAadhaarRequest completes an Aadhaar OTP enrollment.
type EnrollByAadhaarRequest struct {
	TxnID          string
	OTP            string // encrypted on the wire
	Mobile         string
	ConsentCode    string // e.g. "abha-enrollment"
	ConsentVersion string // e.g. "1.4"
}

// AuthByOTPRequest completes a generic OTP-based auth step (mobile
// verification, ABHA login, account recovery).
type AuthByOTPRequest struct {
	TxnID string
	OTP   string // encrypted on the wire
	Scope []string
}

// EnrollByDocumentRequest enrolls via an identity document such as a
// driving licence. Identifying fields are encrypted; the base64 image
// attachments pass through as-is.
type EnrollByDocumentRequest struct {
	TxnID          string
	DocumentType   string // "DRIVING_LICENCE"
	DocumentNumber string // encrypted on the wire
	FirstName      string // encrypted
	MiddleName     string // encrypted when present
	LastName       string // encrypted
	DOB            string // encrypted, "DD-MM-YYYY"
	Gender         string // encrypted
	Address        string // encrypted
	State          string
	District       string
	PinCode        string
	FrontSidePhoto string // base64, passes through
	BackSidePhoto  string // base64, passes through
	ConsentCode    string
	ConsentVersion string
}

// BenefitLinkRequest links an ABHA number to a benefit program.
type BenefitLinkRequest struct {
	AbhaNumber  string // encrypted on the wire
	BenefitName string
	ProgramID   string
}

// TokenPair is the patient-level token material returned by
// auth-completing operations and refresh exchanges.
type TokenPair struct {
	AccessToken      string `json:"token"`
	ExpiresIn        int    `json:"expiresIn"`
	RefreshToken     string `json:"refreshToken"`
	RefreshExpiresIn int    `json:"refreshExpiresIn"`
}

// Profile is the nested ABHA profile object returned by auth-completing
// operations.
type Profile struct {
	AbhaNumber   string   `json:"ABHANumber"`
	AbhaAddress  string   `json:"preferredAbhaAddress"`
	PhrAddresses []string `json:"phrAddress"`
	FirstName    string   `json:"firstName"`
	MiddleName   string   `json:"middleName"`
	LastName     string   `json:"lastName"`
	Gender       string   `json:"gender"`
	DOB          string   `json:"dob"`
	Mobile       string   `json:"mobile"`
	Status       string   `json:"abhaStatus"`
}

// EnrollmentResponse is returned by enrollment and auth operations. Tokens
// and Profile are present on success of auth-completing calls.
type EnrollmentResponse struct {
	Message string     `json:"message"`
	TxnID   string     `json:"txnId"`
	Tokens  *TokenPair `json:"tokens"`
	Profile *Profile   `json:"ABHAProfile"`
	IsNew   bool       `json:"isNew"`
}

// BenefitLinkResponse acknowledges a benefit link.
type BenefitLinkResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}
