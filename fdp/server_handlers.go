package fdp

import (
	"bytes"
	"errors"
	"log"

	"github.com/krithikvaidya/file-delivery-protocol/fdp/file_store"
)

var errClientDisconnect = errors.New("client requested disconnect")

/*
handleFrame reads one frame from the session and acts on it. A non-nil
return means the session must be closed: the peer asked to disconnect, the
connection failed, or the stream can no longer be framed.
*/
func (srv *Server) handleFrame(s *session) error {

	data_type, err := ReadType(s.rd)
	if err != nil {
		return err
	}

	switch data_type {

	case Debug, Command:
		return srv.handleText(s, data_type)

	case UploadFile:
		return srv.handleUpload(s)

	case DownloadFile:
		return srv.handleDownload(s)

	case FilesInfo:
		return srv.sendCatalog(s)

	case DeleteFile:
		return srv.handleDelete(s)

	case Disconnect:
		return errClientDisconnect

	default:
		// Error is server-to-client only; treat it like any unknown type.
		n, err := DiscardBlock(s.rd)
		if err != nil {
			return err
		}

		log.Printf(Yellow+"\n[%v] %v: dropped %v byte frame of type %v\n"+Reset, s.login, ErrUnknownDataType, n, data_type)
		return nil

	}

}

func (srv *Server) handleText(s *session, data_type DataType) error {

	payload, err := ReadBlock(s.rd)
	if err != nil {
		return err
	}

	if len(payload) > 0 {
		log.Printf("[%v] [%v] %s\n", data_type, s.login, payload)
	}

	return nil
}

// Upload: name block, then a file stream. Existing files are overwritten.
func (srv *Server) handleUpload(s *session) error {

	name, err := ReadBlock(s.rd)
	if err != nil {
		return err
	}

	file_name := string(name)

	f, err := srv.store.Create(file_name)
	if err != nil {

		log.Printf(Yellow+"\n[%v] cannot store upload %q: %v\n"+Reset, s.login, file_name, err)

		_, err := DiscardStream(s.rd)
		return err
	}

	size, err := ReceiveStream(s.rd, f)
	f.Close()

	logTransfer("received from "+s.login, file_name, size, err)

	// A partially received file is still on disk, so the catalog changed either way.
	srv.broadcastCatalog()

	if errors.Is(err, ErrDestinationWrite) {
		return nil
	}

	return err
}

/*
Download: name block, then the client's token. The reply echoes the token in
a DownloadFile frame followed by the file stream, or an Error frame carrying
the token if there is no such file.
*/
func (srv *Server) handleDownload(s *session) error {

	name, err := ReadBlock(s.rd)
	if err != nil {
		return err
	}

	token, err := ReadBlock(s.rd)
	if err != nil {
		return err
	}

	file_name := string(name)

	f, size, err := srv.store.Open(file_name)
	if err != nil {

		log.Printf(Yellow+"\n[%v] download of %q failed: %v\n"+Reset, s.login, file_name, err)

		// Names that could never exist are reported as missing; anything else
		// goes back verbatim so the client can tell the two apart.
		msg := err.Error()
		if errors.Is(err, file_store.ErrNotFound) || errors.Is(err, file_store.ErrInvalidName) {
			msg = ErrFileNotFound.Error() + ": " + file_name
		}

		return SendExact(s.conn, EncodeFrame(Error, token, []byte(msg)))
	}
	defer f.Close()

	if err := SendExact(s.conn, EncodeFrame(DownloadFile, token)); err != nil {
		return err
	}

	err = SendStream(s.conn, f, uint64(size))
	logTransfer("sent to "+s.login, file_name, uint64(size), err)

	return err
}

func (srv *Server) handleDelete(s *session) error {

	name, err := ReadBlock(s.rd)
	if err != nil {
		return err
	}

	file_name := string(name)

	removed, err := srv.store.Remove(file_name)

	switch {

	case err != nil:
		log.Printf(Yellow+"\n[%v] cannot delete %q: %v\n"+Reset, s.login, file_name, err)

	case !removed:
		log.Printf("\n[%v] file %q does not exist\n", s.login, file_name)

	default:
		log.Printf(Cyan+"\n[%v] deleted file %q\n"+Reset, s.login, file_name)
		srv.broadcastCatalog()

	}

	return nil
}

func (srv *Server) catalogFrame() ([]byte, error) {

	catalog, err := srv.store.Catalog()
	if err != nil {
		return nil, err
	}

	return EncodeFrame(FilesInfo, catalog), nil
}

func (srv *Server) sendCatalog(s *session) error {

	frame, err := srv.catalogFrame()
	if err != nil {
		log.Printf(Red+"\nCannot list storage directory: %v\n"+Reset, err)
		return nil
	}

	return SendExact(s.conn, frame)
}

func (srv *Server) broadcastCatalog() {

	frame, err := srv.catalogFrame()
	if err != nil {
		log.Printf(Red+"\nCannot list storage directory: %v\n"+Reset, err)
		return
	}

	srv.last_catalog = frame
	srv.broadcast(frame)
}

// Called when the storage watch settles. The server's own uploads and deletes
// trigger the watch too, but those have already been broadcast, so only a
// catalog that differs from the last one sent goes out.
func (srv *Server) broadcastExternalChange() {

	frame, err := srv.catalogFrame()
	if err != nil {
		log.Printf(Red+"\nCannot list storage directory: %v\n"+Reset, err)
		return
	}

	if bytes.Equal(frame, srv.last_catalog) {
		return
	}

	log.Printf("\nStorage directory changed externally\n")

	srv.last_catalog = frame
	srv.broadcast(frame)
}
