package compat

import "optionchain/gateway/middleware"

// DefaultMethods is the full node method surface reachable through the
// gateway. Reads forward without credentials; mutating methods require the
// listed gateway scope and carry the node token upstream.
var DefaultMethods = map[string]MethodPolicy{
	"options_previewBid":       {},
	"options_previewTakeQuote": {},
	"options_escrow":           {},
	"options_list":             {},
	"options_positionBalance":  {},
	"options_auctionAsk":       {},
	"options_events":           {},
	"oracle_price":             {},

	"options_createAuction":     {Mutating: true, Scope: middleware.ScopeTrade},
	"options_bid":               {Mutating: true, Scope: middleware.ScopeTrade},
	"options_takeQuote":         {Mutating: true, Scope: middleware.ScopeTrade},
	"options_directMint":        {Mutating: true, Scope: middleware.ScopeTrade},
	"options_exercise":          {Mutating: true, Scope: middleware.ScopeTrade},
	"options_borrow":            {Mutating: true, Scope: middleware.ScopeTrade},
	"options_repay":             {Mutating: true, Scope: middleware.ScopeTrade},
	"options_withdraw":          {Mutating: true, Scope: middleware.ScopeTrade},
	"options_sweepExpired":      {Mutating: true, Scope: middleware.ScopeTrade},
	"options_transferOwnership": {Mutating: true, Scope: middleware.ScopeTrade},
	"options_transferPosition":  {Mutating: true, Scope: middleware.ScopeTrade},
	"options_delegateVoting":    {Mutating: true, Scope: middleware.ScopeTrade},

	"options_setQuotePause": {Mutating: true, Scope: middleware.ScopeAdmin},
	"oracle_setPrice":       {Mutating: true, Scope: middleware.ScopeAdmin},
}
