package utils

import (
	"errors"
	"regexp"
	"time"
)

// ObjectType is the kind of Synapse object a file handle is associated with.
type ObjectType string

const (
	ObjectTypeFileEntity      ObjectType = "FileEntity"
	ObjectTypeTableEntity     ObjectType = "TableEntity"
	ObjectTypeWikiAttachment  ObjectType = "WikiAttachment"
	ObjectTypeWikiMarkdown    ObjectType = "WikiMarkdown"
	ObjectTypeSubmission      ObjectType = "SubmissionAttachment"
	ObjectTypeMessage         ObjectType = "MessageAttachment"
	ObjectTypeTeamAttachment  ObjectType = "TeamAttachment"
	ObjectTypeUserProfile     ObjectType = "UserProfileAttachment"
	ObjectTypeVerification    ObjectType = "VerificationSubmission"
	ObjectTypeAccessApproval  ObjectType = "AccessRequirementAttachment"
	ObjectTypeDataAccessReq   ObjectType = "DataAccessRequestAttachment"
	ObjectTypeDataAccessSubmi ObjectType = "DataAccessSubmissionAttachment"
)

var knownObjectTypes = map[ObjectType]bool{
	ObjectTypeFileEntity:      true,
	ObjectTypeTableEntity:     true,
	ObjectTypeWikiAttachment:  true,
	ObjectTypeWikiMarkdown:    true,
	ObjectTypeSubmission:      true,
	ObjectTypeMessage:         true,
	ObjectTypeTeamAttachment:  true,
	ObjectTypeUserProfile:     true,
	ObjectTypeVerification:    true,
	ObjectTypeAccessApproval:  true,
	ObjectTypeDataAccessReq:   true,
	ObjectTypeDataAccessSubmi: true,
}

func (t ObjectType) Valid() bool {
	return knownObjectTypes[t]
}

// DownloadRequest fully describes one file download. It is passed by value
// and never modified once built.
type DownloadRequest struct {
	FileHandleID    string
	ObjectID        string
	ObjectType      ObjectType
	DestinationPath string
}

const (
	DefaultPartSize      = 8 * 1024 * 1024 // 8MB per range request
	DefaultConnections   = 8
	DefaultWorkers       = 1
	DefaultTimeout       = 3 * time.Minute
	DefaultKATimeout     = 90 * time.Second
	DefaultURLBuffer     = 5 * time.Second
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = time.Second
	DefaultRetryMax      = 30 * time.Second
	MaxConnections       = 64
	ToolUserAgent        = "synget/dev"
	LogFile              = ".synget.log"
)

var (
	ErrAlreadyDownloaded = errors.New("file already exists with the same size")
	ErrInvalidSynapseID  = errors.New("invalid synapse id")
	ErrChecksumMismatch  = errors.New("downloaded file does not match its md5")
)

var SynapseIDRegex = regexp.MustCompile(`(?i)^syn(\d+)$`)
