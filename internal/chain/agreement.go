package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// rentalAgreementABI is the fixed method surface of the RentalAgreement
// contract. The contract itself is a black box: its bytecode is supplied via
// configuration and its internal accounting is not interpreted here.
const rentalAgreementABI = `[
	{"inputs":[
		{"internalType":"address","name":"_renter","type":"address"},
		{"internalType":"string","name":"_propertyIPFSHash","type":"string"},
		{"internalType":"uint256","name":"_rentAmount","type":"uint256"},
		{"internalType":"uint256","name":"_depositAmount","type":"uint256"},
		{"internalType":"uint256","name":"_rentalDuration","type":"uint256"}
	],"stateMutability":"nonpayable","type":"constructor"},
	{"inputs":[],"name":"landlord","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"renter","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"propertyIPFSHash","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"rentAmount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"depositAmount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"rentalDuration","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"isActive","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"isTerminated","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"activateAgreement","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[],"name":"terminateAgreement","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Agreement packs and unpacks calls against the RentalAgreement method surface
type Agreement struct {
	abi      abi.ABI
	bytecode []byte
}

// NewAgreement parses the embedded ABI and decodes the deploy bytecode.
// bytecodeHex may carry a 0x prefix.
func NewAgreement(bytecodeHex string) (*Agreement, error) {
	parsed, err := abi.JSON(strings.NewReader(rentalAgreementABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse agreement ABI: %w", err)
	}

	bytecode := common.FromHex(bytecodeHex)
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("agreement bytecode is empty")
	}

	return &Agreement{abi: parsed, bytecode: bytecode}, nil
}

// DeployData builds the deploy payload: contract bytecode followed by the
// ABI-encoded constructor arguments
func (a *Agreement) DeployData(renter common.Address, contentHash string, rent, deposit *big.Int, durationDays uint64) ([]byte, error) {
	args, err := a.abi.Pack("", renter, contentHash, rent, deposit, new(big.Int).SetUint64(durationDays))
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor args: %w", err)
	}

	data := make([]byte, 0, len(a.bytecode)+len(args))
	data = append(data, a.bytecode...)
	data = append(data, args...)
	return data, nil
}

// ActivateData builds the calldata for activateAgreement()
func (a *Agreement) ActivateData() ([]byte, error) {
	data, err := a.abi.Pack("activateAgreement")
	if err != nil {
		return nil, fmt.Errorf("failed to pack activateAgreement: %w", err)
	}
	return data, nil
}

// TerminateData builds the calldata for terminateAgreement()
func (a *Agreement) TerminateData() ([]byte, error) {
	data, err := a.abi.Pack("terminateAgreement")
	if err != nil {
		return nil, fmt.Errorf("failed to pack terminateAgreement: %w", err)
	}
	return data, nil
}

// CallData builds the calldata for a read-only accessor
func (a *Agreement) CallData(method string) ([]byte, error) {
	data, err := a.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

// UnpackAddress decodes an address return value
func (a *Agreement) UnpackAddress(method string, data []byte) (common.Address, error) {
	values, err := a.abi.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s did not return an address", method)
	}
	return addr, nil
}

// UnpackString decodes a string return value
func (a *Agreement) UnpackString(method string, data []byte) (string, error) {
	values, err := a.abi.Unpack(method, data)
	if err != nil {
		return "", fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%s did not return a string", method)
	}
	return s, nil
}

// UnpackBigInt decodes a uint256 return value
func (a *Agreement) UnpackBigInt(method string, data []byte) (*big.Int, error) {
	values, err := a.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s did not return a uint256", method)
	}
	return n, nil
}

// UnpackBool decodes a bool return value
func (a *Agreement) UnpackBool(method string, data []byte) (bool, error) {
	values, err := a.abi.Unpack(method, data)
	if err != nil {
		return false, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	b, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s did not return a bool", method)
	}
	return b, nil
}
