package sdk

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/everFinance/goether"
	"github.com/everFinance/trustcoin/schema"
)

// SDK signs claims for one wallet and submits them.
type SDK struct {
	Signer *goether.Signer
	Cli    *TrustcoinCli
}

func NewSDK(trustcoinUrl string, prvHex string) (*SDK, error) {
	signer, err := goether.NewSigner(prvHex)
	if err != nil {
		return nil, err
	}
	return &SDK{
		Signer: signer,
		Cli:    New(trustcoinUrl),
	}, nil
}

func (s *SDK) Address() string {
	return s.Signer.Address.Hex()
}

// SignClaim builds a claim request for the signer's address at timestamp (unix millis).
func (s *SDK) SignClaim(timestamp int64) (schema.ReqClaim, error) {
	addr := s.Address()
	sig, err := s.Signer.SignMsg([]byte(schema.ClaimMessage(addr, timestamp)))
	if err != nil {
		return schema.ReqClaim{}, err
	}
	return schema.ReqClaim{
		Address:   addr,
		Signature: hexutil.Encode(sig),
		Timestamp: timestamp,
	}, nil
}

func (s *SDK) Claim() (*schema.RespClaim, error) {
	req, err := s.SignClaim(time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	return s.Cli.SubmitClaim(req)
}

func (s *SDK) ClaimStatus() (schema.ClaimStatus, error) {
	return s.Cli.GetClaimStatus(s.Address())
}
