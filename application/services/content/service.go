// Package content creates and moves the records of the knowledge tree and
// places each one through the ordering engine in the same unit of work.
package content

import (
	"context"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/application/services"
	"loci/application/services/ordering"
	"loci/application/services/scoping"
	"loci/domain/config"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// CreateNexusInput creates a top-level nexus.
type CreateNexusInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// CreateNotebookInput creates a notebook inside a nexus.
type CreateNotebookInput struct {
	NexusID string `json:"nexusId" validate:"required"`
	Name    string `json:"name" validate:"required,max=200"`
}

// CreateTagInput creates a tag, optionally nested under a parent tag.
type CreateTagInput struct {
	NotebookID  string `json:"notebookId" validate:"required"`
	Name        string `json:"name" validate:"required,max=200"`
	ParentTagID string `json:"parentTagId"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
}

// CreateConversationInput starts a conversation in a notebook.
type CreateConversationInput struct {
	NotebookID string `json:"notebookId" validate:"required"`
	Title      string `json:"title" validate:"max=200"`
}

// AddMessageInput appends a message to a conversation.
type AddMessageInput struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=user assistant system"`
	Text           string `json:"text" validate:"required"`
}

// Service manages the lifecycle of nexi, notebooks, chunks, tags,
// connections and conversations.
type Service struct {
	knowledge  ports.KnowledgeRepository
	items      ports.ContentItemRepository
	users      ports.UserRepository
	ordering   *ordering.Service
	guard      *scoping.Guard
	uowFactory ports.UnitOfWorkFactory
	clock      ports.Clock
	cfg        *config.DomainConfig
	policy     services.RetryPolicy
	logger     *zap.Logger
}

// NewService creates a new content service
func NewService(
	knowledge ports.KnowledgeRepository,
	items ports.ContentItemRepository,
	users ports.UserRepository,
	orderingService *ordering.Service,
	guard *scoping.Guard,
	uowFactory ports.UnitOfWorkFactory,
	clock ports.Clock,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Service {
	if clock == nil {
		clock = ports.SystemClock
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		knowledge:  knowledge,
		items:      items,
		users:      users,
		ordering:   orderingService,
		guard:      guard,
		uowFactory: uowFactory,
		clock:      clock,
		cfg:        cfg,
		policy:     services.PolicyFrom(cfg),
		logger:     logger,
	}
}

// write runs fn against a fresh unit of work and commits it, retrying the
// whole attempt when an order head or user version moved underneath.
func (s *Service) write(ctx context.Context, op string, fn func(uow ports.UnitOfWork) error) error {
	return services.WithOptimisticRetry(ctx, s.policy, s.logger, op, func(int) error {
		uow := s.uowFactory.Begin()
		if err := fn(uow); err != nil {
			return err
		}
		if uow.Len() == 0 {
			return nil
		}
		return uow.Commit(ctx)
	})
}

// CreateNexus creates a nexus owned by the caller. A guest's nexus is owned
// by its session token and everything created inside it stays ownerless.
func (s *Service) CreateNexus(ctx context.Context, p valueobjects.Principal, in CreateNexusInput) (*entities.Nexus, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	nexus, err := entities.NewNexus(s.cfg, in.Name, in.Description, p.OwnerKey(), p.IsGuest(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, "create_nexus", func(uow ports.UnitOfWork) error {
		uow.Create(nexus)
		return nil
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Nexus created",
		zap.String("nexusID", nexus.ID),
		zap.Bool("guest", nexus.IsGuest),
	)
	return nexus, nil
}

// CreateNotebook creates a notebook and appends it to its nexus.
func (s *Service) CreateNotebook(ctx context.Context, p valueobjects.Principal, in CreateNotebookInput) (*entities.Notebook, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	nexus, _, err := s.guard.Nexus(ctx, p, in.NexusID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNexus(ctx, p, nexus, nexus.ID); err != nil {
		return nil, err
	}

	notebook, err := entities.NewNotebook(s.cfg, nexus.ID, in.Name, childOwner(p, nexus), s.clock.Now())
	if err != nil {
		return nil, err
	}
	req := ordering.PlaceRequest{
		LocusID:     nexus.ID,
		LocusType:   valueobjects.LocusNexus,
		ContentType: valueobjects.ContentNotebook,
		ContentID:   notebook.ID,
	}
	if err := s.write(ctx, "create_notebook", func(uow ports.UnitOfWork) error {
		if _, err := s.ordering.StagePlacement(ctx, uow, notebook.OwnerID, req, valueobjects.PlacementBottom); err != nil {
			return err
		}
		uow.Create(notebook)
		return nil
	}); err != nil {
		return nil, err
	}
	return notebook, nil
}

// CreateTag creates a tag and appends it under its parent tag, or at the
// notebook's root when it has none.
func (s *Service) CreateTag(ctx context.Context, p valueobjects.Principal, in CreateTagInput) (*entities.Tag, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	notebook, owner, err := s.writableNotebook(ctx, p, in.NotebookID)
	if err != nil {
		return nil, err
	}
	if in.ParentTagID != "" {
		parent, err := s.guard.Tag(ctx, p, in.ParentTagID)
		if err != nil {
			return nil, err
		}
		if parent.NotebookID != notebook.ID {
			return nil, pkgerrors.NewValidationError("parent tag belongs to another notebook")
		}
	}

	tag, err := entities.NewTag(s.cfg, notebook.ID, in.Name, in.ParentTagID, owner, s.clock.Now())
	if err != nil {
		return nil, err
	}
	tag.Color = in.Color

	req := ordering.PlaceRequest{
		LocusID:     notebook.ID,
		LocusType:   valueobjects.LocusNotebook,
		ContentType: valueobjects.ContentTag,
		ContentID:   tag.ID,
		ParentID:    tag.ParentTagID,
	}
	if err := s.write(ctx, "create_tag", func(uow ports.UnitOfWork) error {
		if _, err := s.ordering.StagePlacement(ctx, uow, owner, req, valueobjects.PlacementBottom); err != nil {
			return err
		}
		uow.Create(tag)
		return nil
	}); err != nil {
		return nil, err
	}
	return tag, nil
}

// CreateConversation starts an empty conversation in a notebook.
func (s *Service) CreateConversation(ctx context.Context, p valueobjects.Principal, in CreateConversationInput) (*entities.Conversation, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	notebook, owner, err := s.writableNotebook(ctx, p, in.NotebookID)
	if err != nil {
		return nil, err
	}
	conv, err := entities.NewConversation(notebook.ID, in.Title, owner, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, "create_conversation", func(uow ports.UnitOfWork) error {
		uow.Create(conv)
		return nil
	}); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddConversationMessage appends a message to a conversation. Its placement
// sits in the conversation's notebook, parented by the conversation.
func (s *Service) AddConversationMessage(ctx context.Context, p valueobjects.Principal, in AddMessageInput) (*entities.ConversationMessage, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	conv, err := s.guard.Conversation(ctx, p, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNotebook(ctx, p, conv, conv.NotebookID); err != nil {
		return nil, err
	}

	msg, err := entities.NewConversationMessage(conv.ID, entities.MessageRole(in.Role), in.Text, conv.OwnerID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	req := ordering.PlaceRequest{
		LocusID:     conv.NotebookID,
		LocusType:   valueobjects.LocusNotebook,
		ContentType: valueobjects.ContentConversationMessage,
		ContentID:   msg.ID,
		ParentID:    conv.ID,
	}
	if err := s.write(ctx, "add_message", func(uow ports.UnitOfWork) error {
		if _, err := s.ordering.StagePlacement(ctx, uow, msg.OwnerID, req, valueobjects.PlacementBottom); err != nil {
			return err
		}
		uow.Create(msg)
		return nil
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// SetPlacementPreference records where new content of a category lands for
// the caller.
func (s *Service) SetPlacementPreference(ctx context.Context, p valueobjects.Principal, category valueobjects.PlacementCategory, placement valueobjects.Placement) (*entities.User, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	if _, err := valueobjects.ParsePlacementCategory(string(category)); err != nil {
		return nil, err
	}
	if _, err := valueobjects.ParsePlacement(string(placement)); err != nil {
		return nil, err
	}

	var updated *entities.User
	err := s.write(ctx, "set_placement", func(uow ports.UnitOfWork) error {
		user, err := s.users.GetUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		expected := user.Version
		user.SetPlacement(category, placement, s.clock.Now())
		uow.UpdateUser(user, expected)
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	updated.Version++
	return updated, nil
}

// placementFor reads the caller's preference for a category. Guests and
// users without a profile get the default.
func (s *Service) placementFor(ctx context.Context, p valueobjects.Principal, category valueobjects.PlacementCategory) (valueobjects.Placement, error) {
	if !p.IsAuthenticated() {
		return valueobjects.DefaultPlacement, nil
	}
	user, err := s.users.GetUser(ctx, p.UserID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return valueobjects.DefaultPlacement, nil
		}
		return "", err
	}
	return user.PlacementFor(category), nil
}

// writableNotebook loads a notebook the caller may add to and returns the
// owner to stamp on new records inside it.
func (s *Service) writableNotebook(ctx context.Context, p valueobjects.Principal, notebookID string) (*entities.Notebook, string, error) {
	notebook, _, err := s.guard.Notebook(ctx, p, notebookID)
	if err != nil {
		return nil, "", err
	}
	if err := s.guard.CanModifyInNexus(ctx, p, notebook, notebook.NexusID); err != nil {
		return nil, "", err
	}
	nexus, err := s.knowledge.GetNexus(ctx, notebook.NexusID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return notebook, p.OwnerKey(), nil
		}
		return nil, "", err
	}
	return notebook, childOwner(p, nexus), nil
}

// childOwner is the owner stamped on records created under nexus. Records
// under a guest nexus carry no owner.
func childOwner(p valueobjects.Principal, nexus *entities.Nexus) string {
	if nexus.IsGuest {
		return ""
	}
	return p.OwnerKey()
}
