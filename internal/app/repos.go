package app

import (
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type Repos struct {
	Chats       chatrepo.ChatRepo
	Messages    chatrepo.MessageRepo
	Attachments chatrepo.AttachmentRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Chats:       chatrepo.NewChatRepo(db, log),
		Messages:    chatrepo.NewMessageRepo(db, log),
		Attachments: chatrepo.NewAttachmentRepo(db, log),
	}
}
