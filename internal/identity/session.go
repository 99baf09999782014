package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
)

// Service ties the Registry, internal credential verification, and the
// federated verifier together into the sign-in/sign-out surface the
// boundary adapters call.
type Service struct {
	registry  *Registry
	federated *FederatedVerifier
}

// NewService builds a Service. federated may be nil if no federated issuer
// is configured, in which case federated sign-in always fails.
func NewService(registry *Registry, federated *FederatedVerifier) *Service {
	return &Service{registry: registry, federated: federated}
}

// SignInInternal verifies an (identifier, password) pair and, on success,
// creates and persists a new Node for the session.
func (s *Service) SignInInternal(contextID, moduleID uuid.UUID, identifier, password string, schemaVersion uint32) (*Node, error) {
	user, err := s.registry.GetUserByIdentifier(contextID, identifier)
	if err != nil {
		return nil, err
	}
	if user.Type != UserInternal {
		return nil, berrors.New(berrors.CodeAuthentication, "user is not an internal account")
	}
	if !VerifyPassword(password, user.Salt, user.PasswordHash) {
		return nil, berrors.New(berrors.CodeAuthentication, "invalid credentials")
	}
	return s.createNode(contextID, moduleID, *user, schemaVersion)
}

// SignInFederated verifies a signed JWT against the current federated key
// set. The subject claim names an existing User's identifier; on success a
// new Node is created for the session.
func (s *Service) SignInFederated(contextID, moduleID uuid.UUID, token string, schemaVersion uint32) (*Node, error) {
	if s.federated == nil {
		return nil, berrors.New(berrors.CodeAuthentication, "no federated issuer configured")
	}
	subject, err := s.federated.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.registry.GetUserByIdentifier(contextID, subject)
	if err != nil {
		return nil, err
	}
	if user.Type == UserInternal {
		return nil, berrors.New(berrors.CodeAuthentication, "user is not a federated account")
	}
	return s.createNode(contextID, moduleID, *user, schemaVersion)
}

func (s *Service) createNode(contextID, moduleID uuid.UUID, user User, schemaVersion uint32) (*Node, error) {
	sessionKey, err := NewSessionKey()
	if err != nil {
		return nil, err
	}
	nodeKey, err := NewSessionKey()
	if err != nil {
		return nil, err
	}
	node := &Node{
		UUID:          uuid.New(),
		User:          user,
		SessionKey:    sessionKey,
		NodeKey:       nodeKey,
		ContextUUID:   contextID,
		ModuleUUID:    moduleID,
		SchemaVersion: schemaVersion,
		CreatedAt:     time.Now(),
	}
	if err := s.registry.CreateNode(user.UUID, node); err != nil {
		return nil, err
	}
	return node, nil
}

// SignOut destroys a session's Node row.
func (s *Service) SignOut(userID, nodeID uuid.UUID) error {
	return s.registry.DeleteNode(userID, nodeID)
}

// Authenticate resolves a session, returning berrors.CodeAuthentication
// for an absent or unknown session, matching the adapters' contract for
// every inbound request.
func (s *Service) Authenticate(userID, nodeID uuid.UUID) (*Node, error) {
	node, err := s.registry.GetNode(userID, nodeID)
	if err != nil {
		if berrors.CodeOf(err) == berrors.CodeUserNotFound {
			return nil, berrors.New(berrors.CodeAuthentication, "unknown session")
		}
		return nil, err
	}
	return node, nil
}

// AuthenticateNode resolves a session from a bare node uuid, the form every
// boundary adapter actually carries (cookie, bearer token, or TCP node
// field never name the owning user directly).
func (s *Service) AuthenticateNode(nodeID uuid.UUID) (*Node, error) {
	return s.registry.GetNodeByUUID(nodeID)
}

// BootstrapDeveloper creates a default developer account with
// rights=all if no developer exists yet. Called once at startup.
func (s *Service) BootstrapDeveloper(defaultIdentifier, defaultPassword string) error {
	exists, err := s.registry.AnyDeveloperExists()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	salt, err := NewSalt()
	if err != nil {
		return err
	}
	hash := HashPassword(defaultPassword, salt)
	return s.registry.CreateDeveloper(&Developer{
		Identifier:   defaultIdentifier,
		Name:         "default",
		PasswordHash: hash,
		Salt:         salt,
		Rights:       RightsAll,
	})
}

// AuthenticateDeveloper verifies HTTP Basic credentials against the
// Developer store.
func (s *Service) AuthenticateDeveloper(identifier, password string) (*Developer, error) {
	dev, err := s.registry.GetDeveloper(identifier)
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(password, dev.Salt, dev.PasswordHash) {
		return nil, berrors.New(berrors.CodeAuthentication, "invalid developer credentials")
	}
	return dev, nil
}
