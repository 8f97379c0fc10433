package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
)

// Provider is a closed variant over the external identity providers an
// account can link. Each carries the credential type guarding its ids
// and the account-field mapping for a link write.
type Provider struct {
	name     string
	credType model.CredentialType
	patch    func(providerID string) model.AccountUpdate
}

func (p Provider) Name() string { return p.name }

// ProviderFacebook is currently the only supported provider.
var ProviderFacebook = Provider{
	name:     "facebook",
	credType: model.CredentialFacebook,
	patch: func(providerID string) model.AccountUpdate {
		return model.AccountUpdate{FacebookID: &providerID}
	},
}

// ProfileFetcher resolves a provider access token into a profile.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (*model.FacebookProfile, error)
}

const defaultGraphProfileURL = "https://graph.facebook.com/v2.3/me"

// GraphClient fetches profiles from the Facebook Graph API, proving
// possession of the app secret with an appsecret_proof HMAC.
type GraphClient struct {
	appSecret  string
	profileURL string
	httpClient *http.Client
}

var _ ProfileFetcher = (*GraphClient)(nil)

func NewGraphClient(appSecret, profileURL string) *GraphClient {
	if profileURL == "" {
		profileURL = defaultGraphProfileURL
	}
	return &GraphClient{
		appSecret:  appSecret,
		profileURL: profileURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *GraphClient) FetchProfile(ctx context.Context, accessToken string) (*model.FacebookProfile, error) {
	if c.appSecret == "" {
		return nil, apperr.NotImplemented("Facebook app secret not configured")
	}

	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write([]byte(accessToken))
	proof := hex.EncodeToString(mac.Sum(nil))

	query := url.Values{}
	query.Set("access_token", accessToken)
	query.Set("appsecret_proof", proof)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.Unauthorized("invalid facebook access token")
	}

	var data struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		Name      string `json:"name"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &model.FacebookProfile{
		ID:          data.ID,
		Username:    data.Username,
		DisplayName: data.Name,
		Email:       data.Email,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
	}, nil
}

// FacebookExchange turns a provider access token into a local account
// plus a token bundle, creating or linking the account as needed.
type FacebookExchange struct {
	fetcher  ProfileFetcher
	accounts *AccountService
	tokens   *TokenService
	log      *zap.Logger
}

func NewFacebookExchange(fetcher ProfileFetcher, accounts *AccountService, tokens *TokenService, log *zap.Logger) *FacebookExchange {
	if log == nil {
		log = zap.NewNop()
	}
	return &FacebookExchange{fetcher: fetcher, accounts: accounts, tokens: tokens, log: log}
}

// Exchange resolves the token's profile to a local account: by facebook
// id first, then by the profile email, finally by creating a fresh
// account from the profile. An account found by email without a linked
// facebook id is linked opportunistically; that link is best-effort and
// its failure does not abort the exchange.
func (x *FacebookExchange) Exchange(ctx context.Context, accessToken string) (*model.Account, model.TokenBundle, error) {
	profile, err := x.fetcher.FetchProfile(ctx, accessToken)
	if err != nil {
		return nil, model.TokenBundle{}, err
	}

	all := repository.FindOptions{AllFields: true}
	acc, err := x.accounts.FindByFacebookID(ctx, profile.ID, all)
	if err != nil {
		return nil, model.TokenBundle{}, err
	}
	if acc == nil && profile.Email != "" {
		acc, err = x.accounts.FindByEmail(ctx, profile.Email, all)
		if err != nil {
			return nil, model.TokenBundle{}, err
		}
	}

	switch {
	case acc == nil:
		acc, err = x.createFromProfile(ctx, profile)
		if err != nil {
			return nil, model.TokenBundle{}, err
		}
	case acc.FacebookID == "":
		linked, linkErr := x.accounts.LinkWithProvider(ctx, acc.ID, ProviderFacebook, profile.ID)
		if linkErr != nil {
			x.log.Warn("facebook link failed", zap.String("account_id", acc.ID), zap.Error(linkErr))
		} else {
			acc = linked
		}
	}

	bundle, err := x.tokens.Create(ctx, *acc)
	if err != nil {
		return nil, model.TokenBundle{}, err
	}
	return acc, bundle, nil
}

func (x *FacebookExchange) createFromProfile(ctx context.Context, profile *model.FacebookProfile) (*model.Account, error) {
	username := profile.Username
	if username == "" {
		username = generatedUsername(profile.DisplayName)
	}
	return x.accounts.Create(ctx, CreateParams{
		Email:      profile.Email,
		Username:   username,
		Name:       profile.DisplayName,
		FacebookID: profile.ID,
		Metadata: map[string]string{
			"smallPictureUrl":  graphPictureURL(profile.ID, "normal"),
			"mediumPictureUrl": graphPictureURL(profile.ID, "large"),
		},
	})
}

func graphPictureURL(facebookID, size string) string {
	return "http://graph.facebook.com/v2.3/" + facebookID + "/picture?type=" + size
}

// generatedUsername derives a username from a display name when the
// profile has none, e.g. "Jane Doe" -> "janeDoe417".
func generatedUsername(displayName string) string {
	var b strings.Builder
	for i, word := range strings.Fields(displayName) {
		word = strings.ToLower(word)
		if i > 0 {
			runes := []rune(word)
			runes[0] = unicode.ToUpper(runes[0])
			word = string(runes)
		}
		b.WriteString(word)
	}
	if b.Len() == 0 {
		b.WriteString("user")
	}
	return b.String() + strconv.Itoa(rand.Intn(1000))
}
