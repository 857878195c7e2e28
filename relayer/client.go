package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client talks to a relayer over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the relayer at baseURL. A nil httpClient
// uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		enc, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(enc)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceNotReady, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		rerr := &Error{Status: resp.StatusCode}
		if json.Unmarshal(data, rerr) != nil || rerr.Code == "" {
			rerr.Code = CodeInternal
			rerr.Message = strings.TrimSpace(string(data))
		}
		return rerr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Health checks that the relayer is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// KeyInfo fetches the chain id and contract addresses the relayer serves.
func (c *Client) KeyInfo(ctx context.Context) (*KeyInfo, error) {
	info := new(KeyInfo)
	if err := c.do(ctx, http.MethodGet, "/v1/keyurl", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// UserDecrypt asks the relayer to decrypt pairs under the authorization
// signed by user, then opens the answers with keypair. The result maps
// every requested handle to its cleartext.
func (c *Client) UserDecrypt(ctx context.Context, pairs []HandleContractPair, keypair Keypair, signature []byte, contracts []common.Address, user common.Address, startTimestamp, durationDays int64) (map[common.Hash]*big.Int, error) {
	addrs := make([]string, len(contracts))
	for i, a := range contracts {
		addrs[i] = a.Hex()
	}
	req := &UserDecryptRequest{
		HandleContractPairs: pairs,
		RequestValidity: RequestValidity{
			StartTimestamp: strconv.FormatInt(startTimestamp, 10),
			DurationDays:   strconv.FormatInt(durationDays, 10),
		},
		ContractAddresses: addrs,
		UserAddress:       user.Hex(),
		Signature:         hexutil.Encode(signature),
		PublicKey:         keypair.PublicKey,
		ExtraData:         hexutil.Encode(DefaultExtraData),
	}
	var resp UserDecryptResponse
	if err := c.do(ctx, http.MethodPost, "/v1/user-decrypt", req, &resp); err != nil {
		return nil, err
	}

	out := make(map[common.Hash]*big.Int, len(resp.Response))
	for _, share := range resp.Response {
		payload, err := decodeHex(share.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload for %s: %w", share.Handle, err)
		}
		v, err := keypair.Open(payload)
		if err != nil {
			return nil, err
		}
		out[common.HexToHash(share.Handle)] = v
	}
	for _, p := range pairs {
		if _, ok := out[common.HexToHash(p.Handle)]; !ok {
			return nil, fmt.Errorf("relayer returned no value for %s", p.Handle)
		}
	}
	return out, nil
}
