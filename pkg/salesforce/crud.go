package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

type idRecord struct {
	ID string `json:"Id"`
}

// FindContactByEmail returns the Salesforce ID of the Contact with the given
// email, or "" when no match exists.
func FindContactByEmail(ctx context.Context, c Client, email string) (string, error) {
	if email == "" {
		return "", nil
	}
	var result QueryResult[idRecord]
	soql := fmt.Sprintf("SELECT Id FROM Contact WHERE Email = '%s' LIMIT 1", escapeSOQL(email))
	if err := c.Query(ctx, soql, &result); err != nil {
		return "", eris.Wrap(err, "sf: find contact by email")
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	return result.Records[0].ID, nil
}

// FindAccountByName returns the Salesforce ID of the Account with the given
// name, or "" when no match exists.
func FindAccountByName(ctx context.Context, c Client, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	var result QueryResult[idRecord]
	soql := fmt.Sprintf("SELECT Id FROM Account WHERE Name = '%s' LIMIT 1", escapeSOQL(name))
	if err := c.Query(ctx, soql, &result); err != nil {
		return "", eris.Wrap(err, "sf: find account by name")
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	return result.Records[0].ID, nil
}

// UpsertAccount creates or updates an Account matched by name and returns its
// Salesforce ID.
func UpsertAccount(ctx context.Context, c Client, name string, fields map[string]any) (string, error) {
	if name == "" {
		return "", eris.New("sf: account Name is required")
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["Name"] = name

	id, err := FindAccountByName(ctx, c, name)
	if err != nil {
		return "", err
	}
	if id != "" {
		if err := c.UpdateOne(ctx, "Account", id, fields); err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("sf: update account %s", id))
		}
		return id, nil
	}

	id, err = c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

// UpsertContact creates or updates a Contact matched by email and returns its
// Salesforce ID. When accountID is non-empty the contact is linked to it.
func UpsertContact(ctx context.Context, c Client, email, accountID string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = make(map[string]any)
	}
	if email != "" {
		fields["Email"] = email
	}
	if accountID != "" {
		fields["AccountId"] = accountID
	}

	id, err := FindContactByEmail(ctx, c, email)
	if err != nil {
		return "", err
	}
	if id != "" {
		if err := c.UpdateOne(ctx, "Contact", id, fields); err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("sf: update contact %s", id))
		}
		return id, nil
	}

	id, err = c.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create contact")
	}
	return id, nil
}

// escapeSOQL escapes single quotes and backslashes in a SOQL string literal.
func escapeSOQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
