package walletconnect

import (
	"context"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/pkg/errors"
)

var ErrBadSignature = errors.New("signature does not match account")

// SignIn asks the wallet to personal_sign msg and checks the signature belongs to account.
func SignIn(ctx context.Context, provider eip1193.Provider, account, msg string) (string, error) {
	var signatureHex string
	err := provider.Request(ctx, &signatureHex, eip1193.MethodPersonalSign, hexutil.Encode([]byte(msg)), account)
	if err != nil {
		return "", err
	}
	if !verifyEthSignature(account, signatureHex, []byte(msg)) {
		return "", ErrBadSignature
	}
	return signatureHex, nil
}

func verifyEthSignature(signAddrHex, signatureHex string, msg []byte) bool {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	hash := accounts.TextHash(msg)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	recovered, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	if !common.IsHexAddress(signAddrHex) {
		return false
	}
	return common.HexToAddress(signAddrHex) == crypto.PubkeyToAddress(*recovered)
}
