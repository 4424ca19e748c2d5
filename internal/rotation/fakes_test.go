package rotation

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/systmms/pamsync/internal/pam360"
)

// callLog records the order of server and rotator operations so tests can
// assert on the exact call sequence of a run.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(prefix string) int {
	n := 0
	for _, c := range l.all() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// fakeServer is an in-memory PAM360 with scriptable failures.
type fakeServer struct {
	log *callLog

	resources []pam360.Resource
	accounts  map[pam360.ID][]pam360.Account
	nextID    int

	listResourcesErr  error
	listAccountsErr   error
	updateErrFor      map[pam360.ID]error
	createAccountErr  map[string]error
	shareResourceErr  error
	shareAccountErr   error
	dropIDOnReResolve bool

	// passwords captures the latest password the server was told about,
	// keyed by account name.
	passwords map[string]string
}

func newFakeServer(log *callLog) *fakeServer {
	return &fakeServer{
		log:       log,
		accounts:  make(map[pam360.ID][]pam360.Account),
		nextID:    100,
		passwords: make(map[string]string),
	}
}

func (s *fakeServer) addResource(name string, id pam360.ID, accounts ...pam360.Account) {
	s.resources = append(s.resources, pam360.Resource{Name: name, ID: id})
	s.accounts[id] = append(s.accounts[id], accounts...)
}

func (s *fakeServer) allocID() pam360.ID {
	s.nextID++
	return pam360.ID(strconv.Itoa(s.nextID))
}

func (s *fakeServer) ListResources(context.Context) ([]pam360.Resource, error) {
	s.log.add("ListResources")
	if s.listResourcesErr != nil {
		return nil, s.listResourcesErr
	}
	return append([]pam360.Resource(nil), s.resources...), nil
}

func (s *fakeServer) GetResourceIDByName(_ context.Context, name string) (pam360.ID, error) {
	s.log.add("GetResourceIDByName:%s", name)
	if s.dropIDOnReResolve {
		return "", nil
	}
	for _, r := range s.resources {
		if r.Name == name {
			return r.ID, nil
		}
	}
	return "", nil
}

func (s *fakeServer) CreateResource(_ context.Context, req pam360.CreateResourceRequest) (string, error) {
	s.log.add("CreateResource:%s", req.ResourceName)
	id := s.allocID()
	s.resources = append(s.resources, pam360.Resource{Name: req.ResourceName, ID: id})
	s.accounts[id] = []pam360.Account{{Name: req.AccountName, ID: s.allocID()}}
	s.passwords[req.AccountName] = req.Password
	return fmt.Sprintf("Resource %s has been added successfully", req.ResourceName), nil
}

func (s *fakeServer) ListAccounts(_ context.Context, resourceID pam360.ID) ([]pam360.Account, error) {
	s.log.add("ListAccounts:%s", resourceID)
	if s.listAccountsErr != nil {
		return nil, s.listAccountsErr
	}
	return append([]pam360.Account(nil), s.accounts[resourceID]...), nil
}

func (s *fakeServer) CreateAccount(_ context.Context, resourceID pam360.ID, name, password string) error {
	s.log.add("CreateAccount:%s/%s", resourceID, name)
	if err := s.createAccountErr[name]; err != nil {
		return err
	}
	s.accounts[resourceID] = append(s.accounts[resourceID], pam360.Account{Name: name, ID: s.allocID()})
	s.passwords[name] = password
	return nil
}

func (s *fakeServer) UpdateAccountPassword(_ context.Context, resourceID, accountID pam360.ID, password, _ string) error {
	s.log.add("UpdateAccountPassword:%s/%s", resourceID, accountID)
	if err := s.updateErrFor[accountID]; err != nil {
		return err
	}
	for _, acc := range s.accounts[resourceID] {
		if acc.ID == accountID {
			s.passwords[acc.Name] = password
			break
		}
	}
	return nil
}

func (s *fakeServer) ShareResource(_ context.Context, resourceID pam360.ID, userID, accessType string) error {
	s.log.add("ShareResource:%s/%s/%s", resourceID, userID, accessType)
	return s.shareResourceErr
}

func (s *fakeServer) ShareAccount(_ context.Context, resourceID, accountID pam360.ID, userID, accessType string) error {
	s.log.add("ShareAccount:%s/%s/%s/%s", resourceID, accountID, userID, accessType)
	return s.shareAccountErr
}

var _ Server = (*fakeServer)(nil)

// fakeRotator is an in-memory local account database.
type fakeRotator struct {
	log *callLog

	existing    map[string]bool
	setErrFor   map[string]error
	unsupported bool

	// passwords captures the password applied locally per account.
	passwords map[string]string
}

func newFakeRotator(log *callLog, existing ...string) *fakeRotator {
	m := make(map[string]bool, len(existing))
	for _, name := range existing {
		m[name] = true
	}
	return &fakeRotator{log: log, existing: m, passwords: make(map[string]string)}
}

func (r *fakeRotator) UserExists(name string) bool {
	return r.existing[name]
}

func (r *fakeRotator) Supported() bool {
	return !r.unsupported
}

func (r *fakeRotator) SetPassword(_ context.Context, name, password string) error {
	r.log.add("SetPassword:%s", name)
	if err := r.setErrFor[name]; err != nil {
		return err
	}
	r.passwords[name] = password
	return nil
}
