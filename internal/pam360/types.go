package pam360

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Access levels accepted by the share endpoints, in increasing privilege.
const (
	AccessView       = "view"
	AccessModify     = "modify"
	AccessFullAccess = "fullaccess"
)

// ValidAccessType reports whether s is one of the share access levels.
func ValidAccessType(s string) bool {
	switch s {
	case AccessView, AccessModify, AccessFullAccess:
		return true
	}
	return false
}

// ResourceTypeLinux is the only resource type this tool manages.
const ResourceTypeLinux = "Linux"

// PolicyStrong is the password policy tag applied to created resources and
// accounts.
const PolicyStrong = "Strong"

// resetTypeLocal tells the server the password was already changed on the
// host, so it must record the value without pushing it back out.
const resetTypeLocal = "LOCAL"

// ID is an opaque PAM360 identifier. The server is inconsistent about
// representing identifiers as JSON strings or numbers across endpoints, so
// both decode into the same string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(id))), nil
}

func (id ID) String() string { return string(id) }

// Resource is one entry from the resource listing.
type Resource struct {
	Name string `json:"RESOURCE NAME"`
	ID   ID     `json:"RESOURCE ID"`
}

// Account is one entry from a resource's account listing.
type Account struct {
	Name string `json:"ACCOUNT NAME"`
	ID   ID     `json:"ACCOUNT ID"`
}

// CreateResourceRequest creates a resource with its first account bundled
// in, saving the extra account-creation round trip for account #0.
type CreateResourceRequest struct {
	ResourceName           string `json:"RESOURCENAME"`
	AccountName            string `json:"ACCOUNTNAME"`
	ResourceType           string `json:"RESOURCETYPE"`
	Password               string `json:"PASSWORD"`
	DNSName                string `json:"DNSNAME"`
	ResourcePasswordPolicy string `json:"RESOURCEPASSWORDPOLICY"`
	AccountPasswordPolicy  string `json:"ACCOUNTPASSWORDPOLICY"`
	ResourceGroupName      string `json:"RESOURCEGROUPNAME"`
}

type newAccount struct {
	AccountName           string `json:"ACCOUNTNAME"`
	Password              string `json:"PASSWORD"`
	AccountPasswordPolicy string `json:"ACCOUNTPASSWORDPOLICY"`
}

type createAccountsDetails struct {
	AccountList []newAccount `json:"ACCOUNTLIST"`
}

type updatePasswordDetails struct {
	NewPassword string `json:"NEWPASSWORD"`
	ResetType   string `json:"RESETTYPE"`
	Reason      string `json:"REASON,omitempty"`
}

type shareDetails struct {
	AccessType string `json:"ACCESSTYPE"`
	UserID     string `json:"USERID"`
}

// operationEnvelope is the request wrapper every write endpoint expects.
type operationEnvelope struct {
	Operation operationBody `json:"operation"`
}

type operationBody struct {
	Details interface{} `json:"Details"`
}

// apiResponse is the response wrapper every endpoint returns. Details is
// endpoint-specific and decoded lazily.
type apiResponse struct {
	Operation struct {
		Name    string          `json:"name"`
		Details json.RawMessage `json:"Details"`
		Result  struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"result"`
	} `json:"operation"`
}

// ok reports whether the server classified the operation as successful.
func (r *apiResponse) ok() bool {
	return r.Operation.Result.Status == "Success"
}

type resourceIDDetails struct {
	ResourceID ID `json:"RESOURCEID"`
}

type accountListDetails struct {
	Accounts []Account `json:"ACCOUNT LIST"`
}

// APIError is a PAM360 operation the server refused or a non-JSON failure
// response. Message carries the server's human-readable reason.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("pam360: %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Status != "" {
		msg += fmt.Sprintf(": status %s", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}
