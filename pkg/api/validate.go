package api

import (
	"fmt"
	"net/url"

	"github.com/gagliardetto/solana-go"
)

// validatePubkey checks that s is a well-formed base58 public key.
func validatePubkey(field, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("%s is not a valid base58 public key", field)
	}
	return nil
}

// validateHTTPURL checks that s is an absolute http(s) URL with a host.
func validateHTTPURL(field, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}

// validate checks a submission body. withSigner requires the signer field.
func (req *VerifyRequest) validate(withSigner bool) error {
	if err := validatePubkey("program_id", req.ProgramID); err != nil {
		return err
	}
	if err := validateHTTPURL("repository", req.Repository); err != nil {
		return err
	}
	if withSigner {
		if req.Signer == nil {
			return fmt.Errorf("signer is required")
		}
		if err := validatePubkey("signer", *req.Signer); err != nil {
			return err
		}
	}
	if req.WebhookURL != "" {
		if err := validateHTTPURL("webhook_url", req.WebhookURL); err != nil {
			return err
		}
	}
	return nil
}
