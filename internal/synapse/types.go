package synapse

const (
	DefaultRepoEndpoint = "https://repo-prod.prod.sagebase.org/repo/v1"
	DefaultFileEndpoint = "https://repo-prod.prod.sagebase.org/file/v1"

	S3FileHandleType         = "org.sagebionetworks.repo.model.file.S3FileHandle"
	ExternalS3FileHandleType = "org.sagebionetworks.repo.model.file.ExternalObjectStoreFileHandle"
	FileEntityType           = "org.sagebionetworks.repo.model.FileEntity"
)

type Entity struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ConcreteType     string `json:"concreteType"`
	DataFileHandleID string `json:"dataFileHandleId"`
	VersionNumber    int    `json:"versionNumber"`
}

func (e Entity) IsFile() bool {
	return e.DataFileHandleID != ""
}

type FileHandle struct {
	ID           string `json:"id"`
	FileName     string `json:"fileName"`
	ContentSize  int64  `json:"contentSize"`
	ContentMD5   string `json:"contentMd5"`
	ContentType  string `json:"contentType"`
	ConcreteType string `json:"concreteType"`
	BucketName   string `json:"bucketName"`
	Key          string `json:"key"`
}

// FileHandleDownload is one resolved association: the handle metadata and,
// when requested, a presigned URL for its bytes.
type FileHandleDownload struct {
	FileHandle   FileHandle
	PreSignedURL string
}

type fileHandleAssociation struct {
	FileHandleID        string `json:"fileHandleId"`
	AssociateObjectID   string `json:"associateObjectId"`
	AssociateObjectType string `json:"associateObjectType"`
}

type batchFileRequest struct {
	RequestedFiles              []fileHandleAssociation `json:"requestedFiles"`
	IncludePreSignedURLs        bool                    `json:"includePreSignedURLs"`
	IncludeFileHandles          bool                    `json:"includeFileHandles"`
	IncludePreviewPreSignedURLs bool                    `json:"includePreviewPreSignedURLs"`
}

type fileResult struct {
	FileHandleID string      `json:"fileHandleId"`
	FileHandle   *FileHandle `json:"fileHandle"`
	PreSignedURL string      `json:"preSignedURL"`
	FailureCode  string      `json:"failureCode"`
}

type batchFileResult struct {
	RequestedFiles []fileResult `json:"requestedFiles"`
}

type errorBody struct {
	Reason string `json:"reason"`
}
