// Package crypto signs CLOB orders (EIP-712) and authenticates CLOB API
// requests (HMAC L2 headers).
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Polygon mainnet CTF exchange contracts.
var (
	ExchangeAddress        = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	NegRiskExchangeAddress = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")
)

// Order sides and signature types as encoded in the signed struct.
const (
	SideBuy  uint8 = 0
	SideSell uint8 = 1

	SignatureEOA        = 0
	SignaturePolyProxy  = 1
	SignatureGnosisSafe = 2
)

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "signer", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "makerAmount", Type: "uint256"},
		{Name: "takerAmount", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "feeRateBps", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "signatureType", Type: "uint8"},
	},
}

// OrderPayload is the signed part of a CLOB order. Integers are decimal
// strings so token IDs and base-unit amounts keep full precision.
type OrderPayload struct {
	Salt          string
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   string
	TakerAmount   string
	Expiration    string
	Nonce         string
	FeeRateBps    string
	Side          uint8
	SignatureType int
}

func (o OrderPayload) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"salt":          o.Salt,
		"maker":         o.Maker,
		"signer":        o.Signer,
		"taker":         o.Taker,
		"tokenId":       o.TokenID,
		"makerAmount":   o.MakerAmount,
		"takerAmount":   o.TakerAmount,
		"expiration":    o.Expiration,
		"nonce":         o.Nonce,
		"feeRateBps":    o.FeeRateBps,
		"side":          fmt.Sprint(o.Side),
		"signatureType": fmt.Sprint(o.SignatureType),
	}
}

// Signer holds the order signing key. The key is supplied by configuration;
// nothing here creates or stores keys.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  apitypes.TypedDataDomain
}

// NewSigner creates a Signer for the exchange contract on chainID (137 for
// Polygon mainnet).
func NewSigner(privateKeyHex string, chainID int64, exchange common.Address) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(chainID)),
			VerifyingContract: exchange.Hex(),
		},
	}, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// OrderHash returns the EIP-712 digest of o.
func (s *Signer) OrderHash(o OrderPayload) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain:      s.domain,
		Message:     o.message(),
	})
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: hash order: %w", err)
	}
	return hash, nil
}

// SignOrder returns the 65-byte signature of o as 0x-prefixed hex with v in
// {27, 28}.
func (s *Signer) SignOrder(o OrderPayload) (string, error) {
	hash, err := s.OrderHash(o)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
