package agreement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"rentchain/internal/chain"
	"rentchain/internal/metrics"
	"rentchain/internal/models"
)

// Aggregator assembles the authoritative on-chain view of a rental agreement.
// All accessor calls are independent, side-effect-free reads, so they are
// issued concurrently and joined; if any single read fails the whole
// aggregate fails. A partial view is never returned, since stale or missing
// fields would corrupt downstream reconciliation decisions.
type Aggregator struct {
	client  *chain.Client
	binding *chain.Agreement
}

// NewAggregator creates a read aggregator over the given client and binding
func NewAggregator(client *chain.Client, binding *chain.Agreement) *Aggregator {
	return &Aggregator{client: client, binding: binding}
}

// FetchView fetches and joins every read accessor of the agreement contract
func (a *Aggregator) FetchView(ctx context.Context, contractAddress common.Address) (*models.AgreementView, error) {
	start := time.Now()
	defer func() {
		metrics.AggregatorFetchDuration.Observe(time.Since(start).Seconds())
	}()

	view := &models.AgreementView{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr, err := a.callAddress(gctx, contractAddress, "landlord")
		if err != nil {
			return err
		}
		view.Landlord = addr.Hex()
		return nil
	})

	g.Go(func() error {
		addr, err := a.callAddress(gctx, contractAddress, "renter")
		if err != nil {
			return err
		}
		view.Renter = addr.Hex()
		return nil
	})

	g.Go(func() error {
		s, err := a.callString(gctx, contractAddress, "propertyIPFSHash")
		if err != nil {
			return err
		}
		view.ContentHash = s
		return nil
	})

	g.Go(func() error {
		n, err := a.callBigInt(gctx, contractAddress, "rentAmount")
		if err != nil {
			return err
		}
		view.RentAmount = n
		return nil
	})

	g.Go(func() error {
		n, err := a.callBigInt(gctx, contractAddress, "depositAmount")
		if err != nil {
			return err
		}
		view.DepositAmount = n
		return nil
	})

	g.Go(func() error {
		n, err := a.callBigInt(gctx, contractAddress, "rentalDuration")
		if err != nil {
			return err
		}
		view.DurationDays = n.Uint64()
		return nil
	})

	g.Go(func() error {
		b, err := a.callBool(gctx, contractAddress, "isActive")
		if err != nil {
			return err
		}
		view.IsActive = b
		return nil
	})

	g.Go(func() error {
		b, err := a.callBool(gctx, contractAddress, "isTerminated")
		if err != nil {
			return err
		}
		view.IsTerminated = b
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, models.WrapFault(models.FaultAggregationFailure,
			"failed to assemble agreement view for "+contractAddress.Hex(), err)
	}

	return view, nil
}

func (a *Aggregator) call(ctx context.Context, addr common.Address, method string) ([]byte, error) {
	data, err := a.binding.CallData(method)
	if err != nil {
		return nil, err
	}
	return a.client.Call(ctx, addr, data)
}

func (a *Aggregator) callAddress(ctx context.Context, addr common.Address, method string) (common.Address, error) {
	out, err := a.call(ctx, addr, method)
	if err != nil {
		return common.Address{}, err
	}
	return a.binding.UnpackAddress(method, out)
}

func (a *Aggregator) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := a.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	return a.binding.UnpackString(method, out)
}

func (a *Aggregator) callBigInt(ctx context.Context, addr common.Address, method string) (*big.Int, error) {
	out, err := a.call(ctx, addr, method)
	if err != nil {
		return nil, err
	}
	return a.binding.UnpackBigInt(method, out)
}

func (a *Aggregator) callBool(ctx context.Context, addr common.Address, method string) (bool, error) {
	out, err := a.call(ctx, addr, method)
	if err != nil {
		return false, err
	}
	return a.binding.UnpackBool(method, out)
}
