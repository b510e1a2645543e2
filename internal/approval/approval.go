package approval

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/shopspring/decimal"
)

// Domain separates bet approvals from any other message the oracle key might
// sign. A payload without it verifies cryptographically but is rejected.
const Domain = "escrow/bet-approval/v1"

var (
	ErrMalformed    = errors.New("approval token is malformed")
	ErrBadSignature = errors.New("approval not signed by the configured oracle")
	ErrWrongDomain  = errors.New("approval signed for a different domain")
	ErrExpired      = errors.New("approval has expired")
	ErrStaleEpoch   = errors.New("approval epoch is stale")
	ErrWrongPlayer  = errors.New("approval issued for a different player")
	ErrWrongAmount  = errors.New("approval amount does not match payment")
)

// BetApproval authorizes a stake size for a player, not a single deposit:
// the same token stays valid for repeat deposits until its deadline passes
// or the epoch is bumped. The one-active-match rule is the replay backstop.
type BetApproval struct {
	Domain   string          `json:"domain"`
	Player   string          `json:"player"`
	Epoch    int64           `json:"epoch"`
	Amount   decimal.Decimal `json:"amount"`
	Deadline int64           `json:"deadline"` // unix seconds
}

// Sign produces the compact JWS the oracle hands to a player off-system.
func Sign(key *ecdsa.PrivateKey, a BetApproval) (string, error) {
	a.Domain = Domain
	payload, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, nil)
	if err != nil {
		return "", err
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

// Verify checks a token against the configured oracle key and the deposit it
// is meant to authorize. Any failure rejects the deposit outright.
func Verify(key *ecdsa.PublicKey, token, player string, amount decimal.Decimal, epoch int64, now time.Time) error {
	obj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return ErrMalformed
	}
	payload, err := obj.Verify(key)
	if err != nil {
		return ErrBadSignature
	}

	var a BetApproval
	if err := json.Unmarshal(payload, &a); err != nil {
		return ErrMalformed
	}
	if a.Domain != Domain {
		return ErrWrongDomain
	}
	if now.Unix() > a.Deadline {
		return ErrExpired
	}
	if a.Epoch != epoch {
		return ErrStaleEpoch
	}
	if a.Player != player {
		return ErrWrongPlayer
	}
	if !a.Amount.Equal(amount) {
		return ErrWrongAmount
	}
	return nil
}

// ParsePublicKey decodes the PEM-encoded oracle verification key stored in
// the escrow configuration.
func ParsePublicKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("oracle key is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("oracle key is not an ECDSA public key")
	}
	return key, nil
}

func MarshalPublicKey(key *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
